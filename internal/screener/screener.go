package screener

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stocktrader/internal/config"
	"stocktrader/internal/indicator"
	"stocktrader/internal/marketdata"
)

// Result pairs one ticker with its computed indicators and ranking
// score. Results keep the universe order of their tickers.
type Result struct {
	Ticker string        `json:"ticker"`
	Set    indicator.Set `json:"indicators"`
	Score  float64       `json:"score"`
}

// HistorySource is the slice of the market data provider the screener
// needs.
type HistorySource interface {
	GetHistoryYears(ctx context.Context, symbol string) ([]marketdata.PriceBar, error)
}

// Screener computes indicators for a ticker universe and selects the
// candidates worth sending to the advisor.
type Screener struct {
	Source HistorySource
	Config config.ScreenerConfig
	Logger *zap.Logger
}

func New(source HistorySource, cfg config.ScreenerConfig, logger *zap.Logger) *Screener {
	return &Screener{Source: source, Config: cfg, Logger: logger}
}

func (s *Screener) concurrency() int {
	if s.Config.Concurrency > 0 {
		return s.Config.Concurrency
	}
	return 8
}

func (s *Screener) minBars() int {
	if s.Config.MinBars > 0 {
		return s.Config.MinBars
	}
	return 50
}

// Screen fetches history and computes indicators for every ticker with
// bounded concurrency. A ticker whose fetch fails, or whose history is
// shorter than min bars, gets the neutral failed Set rather than
// aborting the run. Results come back in universe order.
func (s *Screener) Screen(ctx context.Context, tickers []string) ([]Result, error) {
	if s == nil || s.Source == nil {
		return nil, nil
	}

	results := make([]Result, len(tickers))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency())

	for i, ticker := range tickers {
		i, ticker := i, ticker
		group.Go(func() error {
			set := s.analyze(groupCtx, ticker)
			results[i] = Result{Ticker: ticker, Set: set, Score: indicator.Score(set)}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Screener) analyze(ctx context.Context, ticker string) indicator.Set {
	start := time.Now()

	bars, err := s.Source.GetHistoryYears(ctx, ticker)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("history fetch failed, using neutral indicators",
				zap.String("ticker", ticker),
				zap.Error(err),
			)
		}
		return indicator.Neutral()
	}
	if len(bars) < s.minBars() {
		if s.Logger != nil {
			s.Logger.Warn("history too short, using neutral indicators",
				zap.String("ticker", ticker),
				zap.Int("bars", len(bars)),
				zap.Int("min_bars", s.minBars()),
			)
		}
		return indicator.Neutral()
	}

	set := indicator.Compute(marketdata.Closes(bars))

	if s.Logger != nil {
		s.Logger.Debug("screened ticker",
			zap.String("ticker", ticker),
			zap.Float64("rsi", set.RSI),
			zap.Float64("score", indicator.Score(set)),
			zap.Bool("passed", set.Passed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return set
}

// Select applies the configured selection mode to a screened universe.
func (s *Screener) Select(results []Result) []Result {
	if s == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s.Config.SelectionMode)) {
	case "cutoff":
		return s.aboveCutoff(results)
	default:
		return s.topN(results, s.Config.TopN)
	}
}

// topN keeps only tickers that passed the screen, ordered by score
// descending. Ties keep universe order. n <= 0 falls back to 10.
func (s *Screener) topN(results []Result, n int) []Result {
	if n <= 0 {
		n = 10
	}

	passed := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Set.Passed {
			passed = append(passed, result)
		}
	}

	sortByScore(passed)

	if len(passed) > n {
		passed = passed[:n]
	}
	return passed
}

// aboveCutoff keeps every ticker scoring at least as high as the
// configured cutoff ticker, the cutoff itself included, regardless of
// pass status, ordered by score descending. A missing cutoff ticker
// falls back to top-10.
func (s *Screener) aboveCutoff(results []Result) []Result {
	cutoff := strings.TrimSpace(s.Config.CutoffTicker)

	var threshold float64
	found := false
	for _, result := range results {
		if strings.EqualFold(result.Ticker, cutoff) {
			threshold = result.Score
			found = true
			break
		}
	}
	if !found {
		if s.Logger != nil {
			s.Logger.Warn("cutoff ticker not in universe, falling back to top 10",
				zap.String("cutoff_ticker", cutoff),
			)
		}
		return s.topN(results, 10)
	}

	kept := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Score >= threshold {
			kept = append(kept, result)
		}
	}
	sortByScore(kept)
	return kept
}

// sortByScore orders results by score descending. Insertion sort keeps
// equal scores in universe order.
func sortByScore(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
