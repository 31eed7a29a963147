package advisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryPassesAttemptIndex(t *testing.T) {
	var attempts []int
	sentinel := errors.New("nope")
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return sentinel
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	want := []int{0, 1, 2}
	if len(attempts) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), attempts)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Fatalf("attempt sequence %v, want %v", attempts, want)
		}
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	last := errors.New("final failure")
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 2 {
			return last
		}
		return errors.New("earlier failure")
	})
	if !errors.Is(err, last) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, 50*time.Millisecond, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no attempts after cancellation, got %d", calls)
	}
}

func TestModelRotationAcrossAttempts(t *testing.T) {
	client := &Client{}
	client.cfg.Models = []string{"primary", "fallback"}

	cases := map[int]string{0: "primary", 1: "fallback", 2: "primary"}
	for attempt, want := range cases {
		if got := client.modelFor(attempt); got != want {
			t.Fatalf("modelFor(%d) = %q, want %q", attempt, got, want)
		}
	}
}

func TestModelForEmptyList(t *testing.T) {
	client := &Client{}
	if got := client.modelFor(0); got != "" {
		t.Fatalf("expected empty model, got %q", got)
	}
}

func TestDecodeJSONObjectTolerant(t *testing.T) {
	var rec Recommendation
	text := "```json\n{\"action\":\"BUY\",\"confidence\":0.9,\"size_pct\":0.1,\"reasoning\":\"oversold\"}\n```"
	if err := decodeJSONObject(text, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Action != "BUY" || rec.Confidence != 0.9 {
		t.Fatalf("unexpected decode result %+v", rec)
	}
}

func TestDecodeJSONObjectNoObject(t *testing.T) {
	var rec Recommendation
	if err := decodeJSONObject("sorry, I cannot help", &rec); err == nil {
		t.Fatal("expected error for prose response")
	}
}
