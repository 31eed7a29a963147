package advisor

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, doubling the delay after each
// failure starting from base. The attempt index is passed to fn so a
// caller can vary parameters per attempt, model choice included,
// without touching shared state. Returns the last error.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context, attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}

	var lastErr error
	delay := base
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
