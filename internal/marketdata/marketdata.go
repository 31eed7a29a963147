package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time price for one symbol.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// PriceBar is one daily OHLCV bar. Close is the adjusted close when the
// source provides one.
type PriceBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Provider fetches quotes and daily history for exchange symbols.
// Implementations must accept bare tickers and apply any exchange
// suffix themselves.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]PriceBar, error)
}

// Closes extracts the close series from bars, oldest first, as float64
// for indicator math.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, 0, len(bars))
	for _, bar := range bars {
		close, _ := bar.Close.Float64()
		out = append(out, close)
	}
	return out
}
