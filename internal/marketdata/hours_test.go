package marketdata

import (
	"testing"
	"time"

	"stocktrader/internal/config"
)

func londonClock(t *testing.T, at time.Time) *MarketClock {
	t.Helper()
	clock := NewMarketClock(config.MarketDataConfig{Timezone: "Europe/London"})
	clock.now = func() time.Time { return at }
	return clock
}

func TestMarketClockSessionHours(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"weekday mid-session", time.Date(2026, 1, 14, 11, 0, 0, 0, loc), true},
		{"weekday at open", time.Date(2026, 1, 14, 8, 0, 0, 0, loc), true},
		{"weekday before open", time.Date(2026, 1, 14, 7, 59, 0, 0, loc), false},
		{"weekday at close", time.Date(2026, 1, 14, 16, 30, 0, 0, loc), false},
		{"weekday just before close", time.Date(2026, 1, 14, 16, 29, 59, 0, loc), true},
		{"saturday", time.Date(2026, 1, 17, 11, 0, 0, 0, loc), false},
		{"sunday", time.Date(2026, 1, 18, 11, 0, 0, 0, loc), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := londonClock(t, tc.at).IsOpen(); got != tc.open {
				t.Fatalf("IsOpen at %s = %v, want %v", tc.at, got, tc.open)
			}
		})
	}
}

func TestMarketClockOverride(t *testing.T) {
	clock := NewMarketClock(config.MarketDataConfig{
		Timezone:          "Europe/London",
		IgnoreMarketHours: true,
	})
	loc := clock.Location
	clock.now = func() time.Time { return time.Date(2026, 1, 17, 3, 0, 0, 0, loc) }
	if !clock.IsOpen() {
		t.Fatal("override should report the market open at any time")
	}
}

func TestMarketClockNilReceiver(t *testing.T) {
	var clock *MarketClock
	if clock.IsOpen() {
		t.Fatal("nil clock must report closed")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	provider := NewYahooProvider(config.MarketDataConfig{SymbolSuffix: ".L"}, nil)

	cases := map[string]string{
		"bp":      "BP.L",
		"SHEL":    "SHEL.L",
		"AZN.L":   "AZN.L",
		" lloy ":  "LLOY.L",
		"vod.l":   "VOD.L",
		"BARC.L ": "BARC.L",
	}
	for in, want := range cases {
		if got := provider.NormalizeSymbol(in); got != want {
			t.Fatalf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
