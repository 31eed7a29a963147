package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"stocktrader/internal/advisor"
	"stocktrader/internal/config"
	"stocktrader/internal/decision"
	"stocktrader/internal/ledger"
	"stocktrader/internal/models"
	"stocktrader/internal/repository/repotest"
	"stocktrader/internal/risk"
)

type openClock struct{}

func (openClock) IsOpen() bool { return true }

type scriptedAdvisor struct {
	recs map[string]*advisor.Recommendation
}

func (s *scriptedAdvisor) Propose(ctx context.Context, req advisor.ProposeRequest) (*advisor.Recommendation, error) {
	rec, ok := s.recs[req.Symbol]
	if !ok {
		return &advisor.Recommendation{Action: models.ActionHold, Symbol: req.Symbol, Confidence: 0.5}, nil
	}
	return rec, nil
}

func (s *scriptedAdvisor) Validate(ctx context.Context, req advisor.ValidateRequest) (*advisor.Validation, error) {
	return &advisor.Validation{Decision: models.ValidationProceed, Comments: "ok"}, nil
}

func newOrchestratorFixture(t *testing.T, cash float64) (*Orchestrator, *repotest.Fake, *stubQuotes, *scriptedAdvisor) {
	t.Helper()
	repo := repotest.New()
	book := ledger.New(repo, nil)
	if _, err := book.Initialize(context.Background(), cash); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	quotes := &stubQuotes{prices: map[string]float64{}}
	adv := &scriptedAdvisor{recs: map[string]*advisor.Recommendation{}}
	riskManager := risk.New(config.RiskConfig{MaxPositionPct: 0.20, MaxPositions: 5, StopLossPct: 0.05}, nil)
	trading := config.TradingConfig{Mode: "paper", MinConfidence: 0.8, SellConfidence: 0.8}

	executor := NewExecutor(book, repo, quotes, riskManager, trading, nil)
	engine := decision.NewEngine(repo, adv, executor, openClock{}, book, trading,
		config.RiskConfig{MaxPositions: 5}, config.ReviewConfig{}, nil)

	orch := NewOrchestrator(repo, book, nil, adv, engine, quotes, riskManager, openClock{}, trading, nil)
	return orch, repo, quotes, adv
}

func seedPosition(t *testing.T, repo *repotest.Fake, symbol string, quantity, entry float64) {
	t.Helper()
	err := repo.SavePositionTx(context.Background(), nil, &models.Position{
		Symbol:       symbol,
		Quantity:     decimal.NewFromFloat(quantity),
		EntryPrice:   decimal.NewFromFloat(entry),
		CurrentPrice: decimal.NewFromFloat(entry),
	})
	if err != nil {
		t.Fatalf("seed position: %v", err)
	}
}

func TestMonitorPositionsTriggersStopLoss(t *testing.T) {
	orch, repo, quotes, _ := newOrchestratorFixture(t, 9000)
	seedPosition(t, repo, "AZN", 10, 100)
	quotes.prices["AZN"] = 94 // 6% drawdown, past the 5% stop

	orch.monitorPositions(context.Background())

	if _, ok := repo.Positions["AZN"]; ok {
		t.Fatal("stop loss must close the position")
	}
	if len(repo.Trades) != 1 || repo.Trades[0].Action != models.ActionSell {
		t.Fatalf("expected one SELL trade, got %+v", repo.Trades)
	}
	// 9000 + 10 * 94
	if !repo.Ledger.CashBalance.Equal(decimal.NewFromInt(9940)) {
		t.Fatalf("expected cash 9940, got %s", repo.Ledger.CashBalance)
	}
}

func TestMonitorPositionsRefreshesPrices(t *testing.T) {
	orch, repo, quotes, _ := newOrchestratorFixture(t, 9000)
	seedPosition(t, repo, "AZN", 10, 100)
	quotes.prices["AZN"] = 103

	orch.monitorPositions(context.Background())

	position := repo.Positions["AZN"]
	if position == nil {
		t.Fatal("position must survive a healthy price")
	}
	if !position.CurrentPrice.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("expected refreshed price 103, got %s", position.CurrentPrice)
	}
	if !position.UnrealizedPnL.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected unrealized pnl 30, got %s", position.UnrealizedPnL)
	}
}

func TestMonitorPositionsRoutesAdvisorSell(t *testing.T) {
	orch, repo, quotes, adv := newOrchestratorFixture(t, 9000)
	seedPosition(t, repo, "AZN", 10, 100)
	quotes.prices["AZN"] = 120
	adv.recs["AZN"] = &advisor.Recommendation{
		Action:     models.ActionSell,
		Symbol:     "AZN",
		Confidence: 0.9,
		Reasoning:  "take profit",
	}

	orch.monitorPositions(context.Background())

	if _, ok := repo.Positions["AZN"]; ok {
		t.Fatal("advisor sell must close the position")
	}
	if len(repo.Decisions) != 1 {
		t.Fatalf("expected one decision record, got %d", len(repo.Decisions))
	}
	for _, dec := range repo.Decisions {
		if dec.Source != "monitoring" || !dec.Executed {
			t.Fatalf("unexpected decision %+v", dec)
		}
	}
}

func TestMonitorPositionsIgnoresLowConfidenceSell(t *testing.T) {
	orch, repo, quotes, adv := newOrchestratorFixture(t, 9000)
	seedPosition(t, repo, "AZN", 10, 100)
	quotes.prices["AZN"] = 120
	adv.recs["AZN"] = &advisor.Recommendation{
		Action:     models.ActionSell,
		Symbol:     "AZN",
		Confidence: 0.5,
	}

	orch.monitorPositions(context.Background())

	if _, ok := repo.Positions["AZN"]; !ok {
		t.Fatal("low-confidence sell must be ignored")
	}
	if len(repo.Decisions) != 0 {
		t.Fatalf("expected no decision records, got %d", len(repo.Decisions))
	}
}
