package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stocktrader/internal/advisor"
	"stocktrader/internal/config"
	"stocktrader/internal/models"
	"stocktrader/internal/repository"
)

// TradeExecutor turns an actionable decision into a fill. The returned
// bool reports whether an order actually went through; false without an
// error means the executor declined (risk gate, stale price).
type TradeExecutor interface {
	Execute(ctx context.Context, dec models.Decision) (bool, error)
}

// MarketClock gates execution on exchange hours.
type MarketClock interface {
	IsOpen() bool
}

// PortfolioView is the slice of portfolio state validation needs.
type PortfolioView interface {
	CashAndValue(ctx context.Context) (cash, total float64, openPositions int, err error)
}

// Engine owns the decision lifecycle: proposal intake, validation,
// manual review gating, deferred execution and review timeouts. Every
// decision row is an audit record and is never deleted.
type Engine struct {
	Repo     repository.Repository
	Advisor  advisor.Advisor
	Executor TradeExecutor
	Clock    MarketClock
	View     PortfolioView
	Logger   *zap.Logger

	Trading config.TradingConfig
	Risk    config.RiskConfig
	Review  config.ReviewConfig

	// symbolLocks serializes execution per symbol so two paths can
	// never race the same decision into a double fill.
	symbolLocks sync.Map
}

func NewEngine(
	repo repository.Repository,
	adv advisor.Advisor,
	executor TradeExecutor,
	clock MarketClock,
	view PortfolioView,
	trading config.TradingConfig,
	riskCfg config.RiskConfig,
	review config.ReviewConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		Repo:     repo,
		Advisor:  adv,
		Executor: executor,
		Clock:    clock,
		View:     view,
		Logger:   logger,
		Trading:  trading,
		Risk:     riskCfg,
		Review:   review,
	}
}

func (e *Engine) lockSymbol(symbol string) func() {
	value, _ := e.symbolLocks.LoadOrStore(symbol, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleRecommendation runs one proposal through the full lifecycle.
// Returns the stored decision, or nil when the proposal was discarded
// before a record was warranted.
func (e *Engine) HandleRecommendation(ctx context.Context, rec advisor.Recommendation, source string) (*models.Decision, error) {
	if e == nil || e.Repo == nil {
		return nil, fmt.Errorf("decision engine not configured")
	}

	rec.Action = strings.ToUpper(strings.TrimSpace(rec.Action))
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("recommendation has no symbol")
	}

	// HOLD is recorded for the audit trail and closed out immediately.
	if rec.Action == models.ActionHold {
		return e.recordHold(ctx, rec, symbol, source)
	}

	// Low-confidence proposals are discarded before a row exists.
	if rec.Confidence < e.Trading.MinConfidence {
		if e.Logger != nil {
			e.Logger.Info("discarding low-confidence proposal",
				zap.String("symbol", symbol),
				zap.String("action", rec.Action),
				zap.Float64("confidence", rec.Confidence),
				zap.Float64("min_confidence", e.Trading.MinConfidence),
			)
		}
		return nil, nil
	}

	if rec.Action == models.ActionBuy {
		vetoed, err := e.buyVetoes(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if vetoed {
			return nil, nil
		}
	}

	dec, err := e.propose(ctx, rec, symbol, source)
	if err != nil {
		return nil, err
	}

	if err := e.validate(ctx, dec); err != nil {
		return dec, err
	}

	// Re-read: validation wrote verdict columns.
	dec, err = e.Repo.GetDecisionByID(ctx, dec.ID)
	if err != nil || dec == nil {
		return dec, err
	}

	if dec.ValidationDecision == nil || *dec.ValidationDecision == models.ValidationReject {
		// Terminal no-op: closed out so no sweep ever picks it up.
		if _, err := e.Repo.MarkDecisionExecuted(ctx, dec.ID); err != nil {
			return dec, err
		}
		return e.Repo.GetDecisionByID(ctx, dec.ID)
	}

	if e.Trading.ManualReview() {
		deadline := time.Now().UTC().Add(e.reviewTimeout())
		if err := e.Repo.SetDecisionManualReview(ctx, dec.ID, &deadline, true); err != nil {
			return dec, err
		}
		if e.Logger != nil {
			e.Logger.Info("decision queued for manual review",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", symbol),
				zap.Time("deadline", deadline),
			)
		}
		return e.Repo.GetDecisionByID(ctx, dec.ID)
	}

	if e.Clock != nil && !e.Clock.IsOpen() {
		if e.Logger != nil {
			e.Logger.Info("market closed, deferring execution to sweep",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", symbol),
			)
		}
		return dec, nil
	}

	if _, err := e.execute(ctx, *dec); err != nil {
		return dec, err
	}
	return e.Repo.GetDecisionByID(ctx, dec.ID)
}

func (e *Engine) recordHold(ctx context.Context, rec advisor.Recommendation, symbol, source string) (*models.Decision, error) {
	dec, err := e.newDecision(rec, symbol, source)
	if err != nil {
		return nil, err
	}
	verdict := models.ValidationProceed
	comments := "hold requires no action"
	now := time.Now().UTC()
	dec.ValidationDecision = &verdict
	dec.ValidationComments = &comments
	dec.ValidatedAt = &now
	dec.Executed = true
	if err := e.Repo.InsertDecision(ctx, dec); err != nil {
		return nil, err
	}
	return dec, nil
}

// buyVetoes applies the BUY-only gates: at most one buy per symbol per
// UTC day, and no second open decision for a symbol.
func (e *Engine) buyVetoes(ctx context.Context, symbol string) (bool, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	bought, err := e.Repo.CountBuyTradesSince(ctx, symbol, dayStart)
	if err != nil {
		return false, err
	}
	if bought > 0 {
		if e.Logger != nil {
			e.Logger.Info("vetoing buy, symbol already bought today", zap.String("symbol", symbol))
		}
		return true, nil
	}

	open, err := e.Repo.HasOpenDecision(ctx, symbol)
	if err != nil {
		return false, err
	}
	if open {
		if e.Logger != nil {
			e.Logger.Info("vetoing buy, open decision exists", zap.String("symbol", symbol))
		}
		return true, nil
	}
	return false, nil
}

func (e *Engine) newDecision(rec advisor.Recommendation, symbol, source string) (*models.Decision, error) {
	payload, err := json.Marshal(models.DecisionContext{
		Action:     rec.Action,
		Symbol:     symbol,
		Confidence: rec.Confidence,
		SizePct:    rec.SizePct,
		Reasoning:  rec.Reasoning,
		Source:     source,
		Escalated:  rec.Escalated,
	})
	if err != nil {
		return nil, err
	}
	return &models.Decision{
		Symbol:     symbol,
		Source:     source,
		Action:     rec.Action,
		Confidence: rec.Confidence,
		SizePct:    rec.SizePct,
		Context:    payload,
	}, nil
}

func (e *Engine) propose(ctx context.Context, rec advisor.Recommendation, symbol, source string) (*models.Decision, error) {
	dec, err := e.newDecision(rec, symbol, source)
	if err != nil {
		return nil, err
	}
	if err := e.Repo.InsertDecision(ctx, dec); err != nil {
		return nil, err
	}
	return dec, nil
}

// validate asks the advisor for a second opinion. An unreachable or
// unparseable validator degrades to REJECT so nothing trades on an
// unchecked proposal.
func (e *Engine) validate(ctx context.Context, dec *models.Decision) error {
	var verdict *advisor.Validation

	if e.Advisor != nil {
		req := advisor.ValidateRequest{
			Recommendation: advisor.Recommendation{
				Action:     dec.Action,
				Symbol:     dec.Symbol,
				Confidence: dec.Confidence,
				SizePct:    dec.SizePct,
			},
			MaxPositions: e.Risk.MaxPositions,
		}
		if e.View != nil {
			cash, total, open, err := e.View.CashAndValue(ctx)
			if err == nil {
				req.CashBalance = cash
				req.PortfolioValue = total
				req.OpenPositions = open
			}
		}

		got, err := e.Advisor.Validate(ctx, req)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("validation failed, rejecting decision",
					zap.Uint64("decision_id", dec.ID),
					zap.Error(err),
				)
			}
		} else {
			verdict = got
		}
	}

	if verdict == nil {
		return e.Repo.UpdateDecisionValidation(ctx, dec.ID, repository.ValidationUpdate{
			Decision: models.ValidationReject,
			Comments: "validator unavailable",
		})
	}

	update := repository.ValidationUpdate{
		Decision: verdict.Decision,
		Comments: verdict.Comments,
	}
	if verdict.Decision == models.ValidationModify {
		update.RevisedConfidence = verdict.Confidence
		update.RevisedSizePct = verdict.SizePct
	}
	return e.Repo.UpdateDecisionValidation(ctx, dec.ID, update)
}

// execute hands an actionable decision to the executor under the
// per-symbol lock.
func (e *Engine) execute(ctx context.Context, dec models.Decision) (bool, error) {
	if e.Executor == nil {
		return false, fmt.Errorf("no trade executor configured")
	}

	unlock := e.lockSymbol(dec.Symbol)
	defer unlock()

	// Re-check under the lock; another path may have executed it.
	fresh, err := e.Repo.GetDecisionByID(ctx, dec.ID)
	if err != nil {
		return false, err
	}
	if fresh == nil || !fresh.Actionable() {
		return false, nil
	}

	executed, err := e.Executor.Execute(ctx, *fresh)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Error("execution failed",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", dec.Symbol),
				zap.Error(err),
			)
		}
		return false, err
	}
	return executed, nil
}

// SweepPending executes every actionable decision. Closed markets skip
// the sweep entirely; per-decision failures are logged and do not stop
// the rest of the batch.
func (e *Engine) SweepPending(ctx context.Context) (int, error) {
	if e == nil || e.Repo == nil {
		return 0, nil
	}
	if e.Clock != nil && !e.Clock.IsOpen() {
		return 0, nil
	}

	pending, err := e.Repo.ListActionableDecisions(ctx, 100)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, dec := range pending {
		ok, err := e.execute(ctx, dec)
		if err != nil {
			continue
		}
		if ok {
			executed++
		}
	}
	return executed, nil
}

// TimeoutStaleReviews auto-rejects decisions whose review deadline has
// passed without a human verdict.
func (e *Engine) TimeoutStaleReviews(ctx context.Context) (int, error) {
	if e == nil || e.Repo == nil {
		return 0, nil
	}

	pending, err := e.Repo.ListPendingReviewDecisions(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	timedOut := 0
	for _, dec := range pending {
		if dec.ReviewDeadline == nil || dec.ReviewDeadline.After(now) {
			continue
		}
		if err := e.Repo.TimeoutDecision(ctx, dec.ID, "auto-rejected: manual review timed out"); err != nil {
			if e.Logger != nil {
				e.Logger.Warn("failed to time out decision",
					zap.Uint64("decision_id", dec.ID),
					zap.Error(err),
				)
			}
			continue
		}
		if err := e.Repo.SetDecisionManualReview(ctx, dec.ID, nil, false); err != nil {
			continue
		}
		timedOut++
		if e.Logger != nil {
			e.Logger.Info("manual review timed out",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", dec.Symbol),
			)
		}
	}
	return timedOut, nil
}

// Approve resolves the pending review for a symbol and executes the
// decision when the market allows.
func (e *Engine) Approve(ctx context.Context, symbol string) (*models.Decision, error) {
	dec, err := e.pendingForSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	err = e.Repo.UpdateDecisionValidation(ctx, dec.ID, repository.ValidationUpdate{
		Decision: models.ValidationManualOK,
		Comments: "approved by operator",
	})
	if err != nil {
		return nil, err
	}
	if err := e.Repo.SetDecisionManualReview(ctx, dec.ID, nil, false); err != nil {
		return nil, err
	}

	if e.Clock == nil || e.Clock.IsOpen() {
		fresh, err := e.Repo.GetDecisionByID(ctx, dec.ID)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			if _, err := e.execute(ctx, *fresh); err != nil {
				return fresh, err
			}
		}
	}
	return e.Repo.GetDecisionByID(ctx, dec.ID)
}

// Reject resolves the pending review for a symbol as a terminal no.
func (e *Engine) Reject(ctx context.Context, symbol string) (*models.Decision, error) {
	dec, err := e.pendingForSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	err = e.Repo.UpdateDecisionValidation(ctx, dec.ID, repository.ValidationUpdate{
		Decision: models.ValidationManualReject,
		Comments: "rejected by operator",
	})
	if err != nil {
		return nil, err
	}
	if err := e.Repo.SetDecisionManualReview(ctx, dec.ID, nil, false); err != nil {
		return nil, err
	}
	return e.Repo.GetDecisionByID(ctx, dec.ID)
}

func (e *Engine) pendingForSymbol(ctx context.Context, symbol string) (*models.Decision, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	pending, err := e.Repo.ListPendingReviewDecisions(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].Symbol == symbol {
			return &pending[i], nil
		}
	}
	return nil, fmt.Errorf("no pending review for %s", symbol)
}

func (e *Engine) reviewTimeout() time.Duration {
	if e.Review.Timeout > 0 {
		return e.Review.Timeout
	}
	return 60 * time.Minute
}
