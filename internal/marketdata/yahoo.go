package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocktrader/internal/config"
)

// YahooProvider serves quotes and daily bars from Yahoo Finance,
// applying the configured exchange suffix to bare tickers.
type YahooProvider struct {
	Config config.MarketDataConfig
	Logger *zap.Logger
}

func NewYahooProvider(cfg config.MarketDataConfig, logger *zap.Logger) *YahooProvider {
	return &YahooProvider{Config: cfg, Logger: logger}
}

// NormalizeSymbol uppercases a ticker and appends the exchange suffix
// when it is missing. "bp" becomes "BP.L" for the LSE default.
func (p *YahooProvider) NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	suffix := strings.ToUpper(strings.TrimSpace(p.Config.SymbolSuffix))
	if suffix != "" && !strings.HasSuffix(symbol, suffix) {
		symbol += suffix
	}
	return symbol
}

func (p *YahooProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if p == nil {
		return nil, fmt.Errorf("market data provider not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := p.NormalizeSymbol(symbol)

	q, err := quote.Get(normalized)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", normalized, err)
	}
	if q == nil {
		return nil, fmt.Errorf("quote %s: empty response", normalized)
	}

	return &Quote{
		Symbol:        normalized,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		Open:          decimal.NewFromFloat(q.RegularMarketOpen),
		DayHigh:       decimal.NewFromFloat(q.RegularMarketDayHigh),
		DayLow:        decimal.NewFromFloat(q.RegularMarketDayLow),
		PreviousClose: decimal.NewFromFloat(q.RegularMarketPreviousClose),
		Volume:        int64(q.RegularMarketVolume),
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func (p *YahooProvider) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]PriceBar, error) {
	if p == nil {
		return nil, fmt.Errorf("market data provider not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := p.NormalizeSymbol(symbol)

	params := &chart.Params{
		Symbol:   normalized,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)

	bars := make([]PriceBar, 0, 512)
	for iter.Next() {
		bar := iter.Bar()
		if bar == nil {
			continue
		}

		closePrice := bar.Close
		if !bar.AdjClose.IsZero() {
			closePrice = bar.AdjClose
		}

		bars = append(bars, PriceBar{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  closePrice,
			Volume: int64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("history %s: %w", normalized, err)
	}

	if p.Logger != nil {
		p.Logger.Debug("fetched price history",
			zap.String("symbol", normalized),
			zap.Int("bars", len(bars)),
		)
	}

	return bars, nil
}

// GetHistoryYears fetches daily bars for the configured lookback window
// ending now.
func (p *YahooProvider) GetHistoryYears(ctx context.Context, symbol string) ([]PriceBar, error) {
	years := 2
	if p != nil && p.Config.HistoryYears > 0 {
		years = p.Config.HistoryYears
	}
	end := time.Now()
	start := end.AddDate(-years, 0, 0)
	return p.GetHistory(ctx, symbol, start, end)
}
