package screener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocktrader/internal/config"
	"stocktrader/internal/indicator"
	"stocktrader/internal/marketdata"
)

type stubHistorySource struct {
	mu      sync.Mutex
	bars    map[string][]marketdata.PriceBar
	errs    map[string]error
	calls   []string
	inUse   int
	maxSeen int
}

func (s *stubHistorySource) GetHistoryYears(ctx context.Context, symbol string) ([]marketdata.PriceBar, error) {
	s.mu.Lock()
	s.calls = append(s.calls, symbol)
	s.inUse++
	if s.inUse > s.maxSeen {
		s.maxSeen = s.inUse
	}
	s.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.inUse--
	s.mu.Unlock()

	if err, ok := s.errs[symbol]; ok {
		return nil, err
	}
	return s.bars[symbol], nil
}

func barsFromCloses(closes []float64) []marketdata.PriceBar {
	out := make([]marketdata.PriceBar, len(closes))
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, close := range closes {
		out[i] = marketdata.PriceBar{
			Date:  day.AddDate(0, 0, i),
			Close: decimal.NewFromFloat(close),
		}
	}
	return out
}

func uptrendCloses(n int) []float64 {
	closes := make([]float64, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%3 == 2 {
			price -= 1.5
		} else {
			price += 2.0
		}
		closes = append(closes, price)
	}
	return closes
}

func TestScreenNeutralOnErrorAndShortHistory(t *testing.T) {
	source := &stubHistorySource{
		bars: map[string][]marketdata.PriceBar{
			"GOOD":  barsFromCloses(uptrendCloses(80)),
			"SHORT": barsFromCloses(uptrendCloses(20)),
		},
		errs: map[string]error{"BAD": errors.New("boom")},
	}
	screener := New(source, config.ScreenerConfig{Concurrency: 2, MinBars: 50}, nil)

	results, err := screener.Screen(context.Background(), []string{"GOOD", "BAD", "SHORT"})
	if err != nil {
		t.Fatalf("screen: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Ticker != "GOOD" || !results[0].Set.Passed {
		t.Fatalf("expected GOOD to pass, got %+v", results[0])
	}
	for _, i := range []int{1, 2} {
		if results[i].Set != indicator.Neutral() {
			t.Fatalf("expected neutral set for %s, got %+v", results[i].Ticker, results[i].Set)
		}
		if results[i].Set.Passed {
			t.Fatalf("neutral set for %s must not pass", results[i].Ticker)
		}
	}
}

func TestScreenRespectsConcurrencyLimit(t *testing.T) {
	source := &stubHistorySource{bars: map[string][]marketdata.PriceBar{}}
	screener := New(source, config.ScreenerConfig{Concurrency: 2, MinBars: 50}, nil)

	tickers := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	if _, err := screener.Screen(context.Background(), tickers); err != nil {
		t.Fatalf("screen: %v", err)
	}

	if len(source.calls) != len(tickers) {
		t.Fatalf("expected %d fetches, got %d", len(tickers), len(source.calls))
	}
	if source.maxSeen > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", source.maxSeen)
	}
}

func passedResult(ticker string, score float64) Result {
	return Result{Ticker: ticker, Set: indicator.Set{Passed: true}, Score: score}
}

func TestTopNKeepsPassedOnlySortedWithStableTies(t *testing.T) {
	screener := New(nil, config.ScreenerConfig{SelectionMode: "top_n", TopN: 3}, nil)
	screener.Source = &stubHistorySource{}

	results := []Result{
		passedResult("A", 40),
		{Ticker: "B", Set: indicator.Set{Passed: false}, Score: 95},
		passedResult("C", 60),
		passedResult("D", 40),
		passedResult("E", 80),
	}

	selected := screener.Select(results)
	want := []string{"E", "C", "A"}
	if len(selected) != len(want) {
		t.Fatalf("expected %d selections, got %d", len(want), len(selected))
	}
	for i, ticker := range want {
		if selected[i].Ticker != ticker {
			t.Fatalf("selection[%d] = %s, want %s", i, selected[i].Ticker, ticker)
		}
	}
}

func TestTopNTieBreaksByUniverseOrder(t *testing.T) {
	screener := New(&stubHistorySource{}, config.ScreenerConfig{TopN: 2}, nil)

	selected := screener.Select([]Result{
		passedResult("FIRST", 50),
		passedResult("SECOND", 50),
		passedResult("THIRD", 50),
	})
	if len(selected) != 2 || selected[0].Ticker != "FIRST" || selected[1].Ticker != "SECOND" {
		t.Fatalf("ties should keep universe order, got %+v", selected)
	}
}

func TestCutoffKeepsEveryoneAtOrAboveThreshold(t *testing.T) {
	screener := New(&stubHistorySource{}, config.ScreenerConfig{
		SelectionMode: "cutoff",
		CutoffTicker:  "MID",
	}, nil)

	selected := screener.Select([]Result{
		{Ticker: "LOW", Score: 10},
		{Ticker: "MID", Score: 50, Set: indicator.Set{Passed: false}},
		{Ticker: "HIGH", Score: 90},
		{Ticker: "EQUAL", Score: 50},
	})

	want := []string{"HIGH", "MID", "EQUAL"}
	if len(selected) != len(want) {
		t.Fatalf("expected %d selections, got %+v", len(want), selected)
	}
	for i, ticker := range want {
		if selected[i].Ticker != ticker {
			t.Fatalf("selection[%d] = %s, want %s", i, selected[i].Ticker, ticker)
		}
	}
}

func TestCutoffMissingTickerFallsBackToTopTen(t *testing.T) {
	screener := New(&stubHistorySource{}, config.ScreenerConfig{
		SelectionMode: "cutoff",
		CutoffTicker:  "MISSING",
	}, nil)

	results := make([]Result, 0, 12)
	for i := 0; i < 12; i++ {
		results = append(results, passedResult(string(rune('A'+i)), float64(i)))
	}

	selected := screener.Select(results)
	if len(selected) != 10 {
		t.Fatalf("expected top-10 fallback, got %d results", len(selected))
	}
	if selected[0].Score != 11 {
		t.Fatalf("fallback should rank by score, got leading score %v", selected[0].Score)
	}
}
