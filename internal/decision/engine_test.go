package decision

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stocktrader/internal/advisor"
	"stocktrader/internal/config"
	"stocktrader/internal/models"
	"stocktrader/internal/repository/repotest"
)

type stubAdvisor struct {
	verdict *advisor.Validation
	err     error
}

func (s *stubAdvisor) Propose(ctx context.Context, req advisor.ProposeRequest) (*advisor.Recommendation, error) {
	return nil, errors.New("not used")
}

func (s *stubAdvisor) Validate(ctx context.Context, req advisor.ValidateRequest) (*advisor.Validation, error) {
	return s.verdict, s.err
}

// stubExecutor marks the decision executed the way the real executor's
// fill transaction does, so double execution is observable.
type stubExecutor struct {
	repo  *repotest.Fake
	calls int32
	err   error
}

func (s *stubExecutor) Execute(ctx context.Context, dec models.Decision) (bool, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return false, s.err
	}
	return s.repo.MarkDecisionExecuted(ctx, dec.ID)
}

type stubClock bool

func (s stubClock) IsOpen() bool { return bool(s) }

func proceedVerdict() *advisor.Validation {
	return &advisor.Validation{Decision: models.ValidationProceed, Comments: "looks fine"}
}

type engineFixture struct {
	engine   *Engine
	repo     *repotest.Fake
	executor *stubExecutor
	adv      *stubAdvisor
}

func newFixture(t *testing.T, mode string, open bool) *engineFixture {
	t.Helper()
	repo := repotest.New()
	executor := &stubExecutor{repo: repo}
	adv := &stubAdvisor{verdict: proceedVerdict()}
	engine := NewEngine(
		repo, adv, executor, stubClock(open), nil,
		config.TradingConfig{Mode: mode, MinConfidence: 0.8},
		config.RiskConfig{MaxPositions: 5},
		config.ReviewConfig{Timeout: time.Hour},
		nil,
	)
	return &engineFixture{engine: engine, repo: repo, executor: executor, adv: adv}
}

func buyRec(symbol string, confidence float64) advisor.Recommendation {
	return advisor.Recommendation{
		Action:     models.ActionBuy,
		Symbol:     symbol,
		Confidence: confidence,
		SizePct:    0.1,
		Reasoning:  "oversold bounce",
	}
}

func TestHoldIsRecordedAndClosedImmediately(t *testing.T) {
	fx := newFixture(t, "paper", true)

	dec, err := fx.engine.HandleRecommendation(context.Background(),
		advisor.Recommendation{Action: models.ActionHold, Symbol: "AZN", Confidence: 0.9}, "monitoring")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec == nil {
		t.Fatal("hold must still produce an audit record")
	}
	if !dec.Executed {
		t.Fatal("hold must be closed out as a no-op")
	}
	if dec.ValidationDecision == nil || *dec.ValidationDecision != models.ValidationProceed {
		t.Fatalf("hold must be auto-validated, got %+v", dec.ValidationDecision)
	}
	if dec.RequiresManualReview {
		t.Fatal("hold never enters manual review")
	}
	if fx.executor.calls != 0 {
		t.Fatal("hold must not reach the executor")
	}
}

func TestLowConfidenceIsDiscardedBeforeCreation(t *testing.T) {
	fx := newFixture(t, "paper", true)

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.5), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec != nil {
		t.Fatal("low-confidence proposal must not create a decision")
	}
	if len(fx.repo.Decisions) != 0 {
		t.Fatalf("expected no decision rows, got %d", len(fx.repo.Decisions))
	}
}

func TestSameDayBuyIsVetoed(t *testing.T) {
	fx := newFixture(t, "paper", true)

	fx.repo.Trades = append(fx.repo.Trades, models.Trade{
		Symbol:     "AZN",
		Action:     models.ActionBuy,
		ExecutedAt: time.Now().UTC(),
	})

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec != nil || len(fx.repo.Decisions) != 0 {
		t.Fatal("second buy of the day must be vetoed before creation")
	}
}

func TestDuplicateOpenDecisionIsVetoed(t *testing.T) {
	fx := newFixture(t, "paper", true)

	if err := fx.repo.InsertDecision(context.Background(), &models.Decision{
		Symbol: "AZN", Action: models.ActionBuy,
	}); err != nil {
		t.Fatalf("seed decision: %v", err)
	}

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec != nil {
		t.Fatal("buy with an open decision must be vetoed")
	}
	if len(fx.repo.Decisions) != 1 {
		t.Fatalf("expected only the seeded decision, got %d", len(fx.repo.Decisions))
	}
}

func TestRejectedValidationIsTerminal(t *testing.T) {
	fx := newFixture(t, "paper", true)
	fx.adv.verdict = &advisor.Validation{Decision: models.ValidationReject, Comments: "too risky"}

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec == nil || dec.ValidationDecision == nil || *dec.ValidationDecision != models.ValidationReject {
		t.Fatalf("expected a rejected decision, got %+v", dec)
	}
	if !dec.Executed {
		t.Fatal("rejected decision must be closed out so sweeps skip it")
	}
	if fx.executor.calls != 0 {
		t.Fatal("rejected decision must never reach the executor")
	}
	if len(fx.repo.Trades) != 0 {
		t.Fatal("rejection must not touch the ledger")
	}
}

func TestValidatorFailureDegradesToReject(t *testing.T) {
	fx := newFixture(t, "paper", true)
	fx.adv.verdict = nil
	fx.adv.err = errors.New("connection refused")

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec == nil || dec.ValidationDecision == nil || *dec.ValidationDecision != models.ValidationReject {
		t.Fatalf("validator failure must reject, got %+v", dec)
	}
	if fx.executor.calls != 0 {
		t.Fatal("nothing may trade on an unchecked proposal")
	}
}

func TestPaperModeExecutesImmediatelyWhenOpen(t *testing.T) {
	fx := newFixture(t, "paper", true)

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec == nil || !dec.Executed {
		t.Fatalf("expected executed decision, got %+v", dec)
	}
	if fx.executor.calls != 1 {
		t.Fatalf("expected one execution, got %d", fx.executor.calls)
	}
}

func TestClosedMarketDefersToSweep(t *testing.T) {
	fx := newFixture(t, "paper", false)

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec == nil || dec.Executed {
		t.Fatalf("closed market must defer execution, got %+v", dec)
	}
	if fx.executor.calls != 0 {
		t.Fatal("executor must not run while the market is closed")
	}

	// Sweep while still closed does nothing.
	if n, err := fx.engine.SweepPending(context.Background()); err != nil || n != 0 {
		t.Fatalf("closed sweep = (%d, %v), want (0, nil)", n, err)
	}

	// Market opens: exactly one execution, then the sweep drains.
	fx.engine.Clock = stubClock(true)
	if n, err := fx.engine.SweepPending(context.Background()); err != nil || n != 1 {
		t.Fatalf("open sweep = (%d, %v), want (1, nil)", n, err)
	}
	if n, err := fx.engine.SweepPending(context.Background()); err != nil || n != 0 {
		t.Fatalf("second sweep = (%d, %v), want (0, nil)", n, err)
	}
	if fx.executor.calls != 1 {
		t.Fatalf("expected exactly one execution, got %d", fx.executor.calls)
	}
}

func TestManualReviewModeQueuesInsteadOfExecuting(t *testing.T) {
	fx := newFixture(t, "live", true)

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if dec == nil || !dec.RequiresManualReview {
		t.Fatalf("live mode must queue for review, got %+v", dec)
	}
	if dec.ReviewDeadline == nil {
		t.Fatal("review deadline must be set")
	}
	if fx.executor.calls != 0 {
		t.Fatal("queued decision must not execute")
	}

	// A queued decision is invisible to the sweep.
	if n, _ := fx.engine.SweepPending(context.Background()); n != 0 {
		t.Fatalf("sweep must skip decisions under review, executed %d", n)
	}
}

func TestApproveExecutesPendingDecision(t *testing.T) {
	fx := newFixture(t, "live", true)

	if _, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	dec, err := fx.engine.Approve(context.Background(), "AZN")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if dec == nil || !dec.Executed {
		t.Fatalf("approved decision must execute, got %+v", dec)
	}
	if dec.ValidationDecision == nil || *dec.ValidationDecision != models.ValidationManualOK {
		t.Fatalf("expected manual approval verdict, got %+v", dec.ValidationDecision)
	}
	if fx.executor.calls != 1 {
		t.Fatalf("expected one execution, got %d", fx.executor.calls)
	}
}

func TestRejectResolvesPendingDecision(t *testing.T) {
	fx := newFixture(t, "live", true)

	if _, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	dec, err := fx.engine.Reject(context.Background(), "AZN")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if dec == nil || dec.Executed {
		t.Fatalf("rejected decision must stay unexecuted, got %+v", dec)
	}
	if dec.ValidationDecision == nil || *dec.ValidationDecision != models.ValidationManualReject {
		t.Fatalf("expected manual rejection verdict, got %+v", dec.ValidationDecision)
	}

	if _, err := fx.engine.Reject(context.Background(), "AZN"); err == nil {
		t.Fatal("second reject must find nothing pending")
	}
}

func TestReviewTimeoutAutoRejects(t *testing.T) {
	fx := newFixture(t, "live", true)

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Not yet stale: nothing happens.
	if n, _ := fx.engine.TimeoutStaleReviews(context.Background()); n != 0 {
		t.Fatalf("fresh review must not time out, got %d", n)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if err := fx.repo.SetDecisionManualReview(context.Background(), dec.ID, &past, true); err != nil {
		t.Fatalf("set deadline: %v", err)
	}

	n, err := fx.engine.TimeoutStaleReviews(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("timeout sweep = (%d, %v), want (1, nil)", n, err)
	}

	timedOut, err := fx.repo.GetDecisionByID(context.Background(), dec.ID)
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if timedOut.ValidationDecision == nil || *timedOut.ValidationDecision != models.ValidationTimeout {
		t.Fatalf("expected TIMEOUT verdict, got %+v", timedOut.ValidationDecision)
	}
	if timedOut.Executed {
		t.Fatal("timed out decision must stay unexecuted")
	}
	if pending, _ := fx.repo.ListPendingReviewDecisions(context.Background()); len(pending) != 0 {
		t.Fatal("timed out decision must leave the review queue")
	}
}

func TestExecutorErrorLeavesDecisionActionable(t *testing.T) {
	fx := newFixture(t, "paper", false)

	dec, err := fx.engine.HandleRecommendation(context.Background(), buyRec("AZN", 0.9), "screening")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	fx.engine.Clock = stubClock(true)
	fx.executor.err = errors.New("quote unavailable")

	if n, _ := fx.engine.SweepPending(context.Background()); n != 0 {
		t.Fatalf("failed execution must not count, got %d", n)
	}

	fresh, _ := fx.repo.GetDecisionByID(context.Background(), dec.ID)
	if !fresh.Actionable() {
		t.Fatal("decision must stay actionable for the next sweep")
	}

	fx.executor.err = nil
	if n, _ := fx.engine.SweepPending(context.Background()); n != 1 {
		t.Fatalf("retry sweep should execute once, got %d", n)
	}
}
