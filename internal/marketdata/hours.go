package marketdata

import (
	"time"

	"stocktrader/internal/config"
)

// MarketClock answers whether the configured exchange is currently in
// its regular session. Weekends and out-of-session hours are closed;
// exchange holidays are not modelled and resolve as open.
type MarketClock struct {
	Location *time.Location
	Override bool // treat the market as always open

	openHour    int
	openMinute  int
	closeHour   int
	closeMinute int

	now func() time.Time
}

// NewMarketClock builds a clock for the configured exchange. Only the
// LSE session (08:00-16:30 local) is currently defined; unknown
// timezones fall back to UTC.
func NewMarketClock(cfg config.MarketDataConfig) *MarketClock {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &MarketClock{
		Location:    loc,
		Override:    cfg.IgnoreMarketHours,
		openHour:    8,
		openMinute:  0,
		closeHour:   16,
		closeMinute: 30,
		now:         time.Now,
	}
}

func (c *MarketClock) IsOpen() bool {
	if c == nil {
		return false
	}
	if c.Override {
		return true
	}

	now := c.now().In(c.Location)

	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	open := time.Date(now.Year(), now.Month(), now.Day(), c.openHour, c.openMinute, 0, 0, c.Location)
	close := time.Date(now.Year(), now.Month(), now.Day(), c.closeHour, c.closeMinute, 0, 0, c.Location)

	return !now.Before(open) && now.Before(close)
}
