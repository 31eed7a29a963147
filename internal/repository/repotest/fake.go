// Package repotest provides an in-memory Repository for package tests.
// InTx snapshots state and restores it when the callback fails, so
// rollback-dependent behavior can be exercised without a database.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stocktrader/internal/models"
	"stocktrader/internal/repository"
)

type Fake struct {
	mu sync.Mutex

	Ledger    *models.Ledger
	Positions map[string]*models.Position
	Trades    []models.Trade
	Decisions map[uint64]*models.Decision
	Snapshots []models.PortfolioSnapshot

	nextPositionID uint64
	nextTradeID    uint64
	nextDecisionID uint64
	nextSnapshotID uint64
}

var _ repository.Repository = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Positions: map[string]*models.Position{},
		Decisions: map[uint64]*models.Decision{},
	}
}

type state struct {
	ledger    *models.Ledger
	positions map[string]*models.Position
	trades    []models.Trade
	decisions map[uint64]*models.Decision
}

func (f *Fake) snapshotState() state {
	s := state{
		positions: make(map[string]*models.Position, len(f.Positions)),
		trades:    append([]models.Trade(nil), f.Trades...),
		decisions: make(map[uint64]*models.Decision, len(f.Decisions)),
	}
	if f.Ledger != nil {
		copied := *f.Ledger
		s.ledger = &copied
	}
	for symbol, position := range f.Positions {
		copied := *position
		s.positions[symbol] = &copied
	}
	for id, decision := range f.Decisions {
		copied := *decision
		s.decisions[id] = &copied
	}
	return s
}

func (f *Fake) restoreState(s state) {
	f.Ledger = s.ledger
	f.Positions = s.positions
	f.Trades = s.trades
	f.Decisions = s.decisions
}

func (f *Fake) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.mu.Lock()
	saved := f.snapshotState()
	f.mu.Unlock()

	if err := fn(nil); err != nil {
		f.mu.Lock()
		f.restoreState(saved)
		f.mu.Unlock()
		return err
	}
	return nil
}

// --- Ledger ------------------------------------------------------------------

func (f *Fake) EnsureLedger(ctx context.Context, initial decimal.Decimal) (*models.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Ledger == nil {
		f.Ledger = &models.Ledger{ID: 1, CashBalance: initial}
	}
	copied := *f.Ledger
	return &copied, nil
}

func (f *Fake) GetLedger(ctx context.Context) (*models.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Ledger == nil {
		return nil, nil
	}
	copied := *f.Ledger
	return &copied, nil
}

func (f *Fake) GetLedgerForUpdateTx(ctx context.Context, tx *gorm.DB) (*models.Ledger, error) {
	return f.GetLedger(ctx)
}

func (f *Fake) SaveLedgerTx(ctx context.Context, tx *gorm.DB, item *models.Ledger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *item
	f.Ledger = &copied
	return nil
}

// --- Positions ---------------------------------------------------------------

func (f *Fake) GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	position, ok := f.Positions[strings.TrimSpace(symbol)]
	if !ok {
		return nil, nil
	}
	copied := *position
	return &copied, nil
}

func (f *Fake) GetPositionBySymbolTx(ctx context.Context, tx *gorm.DB, symbol string) (*models.Position, error) {
	return f.GetPositionBySymbol(ctx, symbol)
}

func (f *Fake) ListPositions(ctx context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Position, 0, len(f.Positions))
	for _, position := range f.Positions {
		out = append(out, *position)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (f *Fake) SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == 0 {
		f.nextPositionID++
		item.ID = f.nextPositionID
	}
	copied := *item
	f.Positions[item.Symbol] = &copied
	return nil
}

func (f *Fake) DeletePositionTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for symbol, position := range f.Positions {
		if position.ID == id {
			delete(f.Positions, symbol)
			return nil
		}
	}
	return nil
}

func (f *Fake) UpdatePositionPrice(ctx context.Context, symbol string, price, unrealizedPnL decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if position, ok := f.Positions[strings.TrimSpace(symbol)]; ok {
		position.CurrentPrice = price
		position.UnrealizedPnL = unrealizedPnL
	}
	return nil
}

// --- Trades ------------------------------------------------------------------

func (f *Fake) InsertTradeTx(ctx context.Context, tx *gorm.DB, item *models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTradeID++
	item.ID = f.nextTradeID
	item.CreatedAt = time.Now().UTC()
	f.Trades = append(f.Trades, *item)
	return nil
}

func (f *Fake) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Trade, 0, len(f.Trades))
	for _, trade := range f.Trades {
		if params.Symbol != nil && trade.Symbol != *params.Symbol {
			continue
		}
		if params.Action != nil && trade.Action != *params.Action {
			continue
		}
		if params.Since != nil && trade.ExecutedAt.Before(*params.Since) {
			continue
		}
		out = append(out, trade)
	}
	return out, nil
}

func (f *Fake) CountBuyTradesSince(ctx context.Context, symbol string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, trade := range f.Trades {
		if trade.Symbol == symbol && trade.Action == models.ActionBuy && !trade.ExecutedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- Decisions ---------------------------------------------------------------

func (f *Fake) InsertDecision(ctx context.Context, item *models.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDecisionID++
	item.ID = f.nextDecisionID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	copied := *item
	f.Decisions[item.ID] = &copied
	return nil
}

func (f *Fake) GetDecisionByID(ctx context.Context, id uint64) (*models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	decision, ok := f.Decisions[id]
	if !ok {
		return nil, nil
	}
	copied := *decision
	return &copied, nil
}

func (f *Fake) GetLatestDecisionBySymbol(ctx context.Context, symbol string) (*models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Decision
	for _, decision := range f.Decisions {
		if decision.Symbol != symbol {
			continue
		}
		if latest == nil || decision.CreatedAt.After(latest.CreatedAt) {
			latest = decision
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (f *Fake) ListDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Decision, 0, len(f.Decisions))
	for _, decision := range f.Decisions {
		if params.Symbol != nil && decision.Symbol != *params.Symbol {
			continue
		}
		if params.Executed != nil && decision.Executed != *params.Executed {
			continue
		}
		if params.Source != nil && decision.Source != *params.Source {
			continue
		}
		out = append(out, *decision)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) ListActionableDecisions(ctx context.Context, limit int) ([]models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Decision, 0)
	for _, decision := range f.Decisions {
		if decision.Actionable() {
			out = append(out, *decision)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) ListPendingReviewDecisions(ctx context.Context) ([]models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Decision, 0)
	for _, decision := range f.Decisions {
		if !decision.RequiresManualReview || decision.Executed || decision.ValidationDecision == nil {
			continue
		}
		switch *decision.ValidationDecision {
		case models.ValidationProceed, models.ValidationModify:
			out = append(out, *decision)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) HasOpenDecision(ctx context.Context, symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, decision := range f.Decisions {
		if decision.Symbol != symbol || decision.Executed {
			continue
		}
		if decision.ValidationDecision == nil {
			return true, nil
		}
		switch *decision.ValidationDecision {
		case models.ValidationProceed, models.ValidationModify, models.ValidationManualOK:
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) UpdateDecisionValidation(ctx context.Context, id uint64, update repository.ValidationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	decision, ok := f.Decisions[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	verdict := update.Decision
	comments := update.Comments
	decision.ValidationDecision = &verdict
	decision.ValidationComments = &comments
	decision.ValidatedAt = &now
	if update.RevisedConfidence != nil {
		revised := *update.RevisedConfidence
		decision.RevisedConfidence = &revised
	}
	if update.RevisedSizePct != nil {
		revised := *update.RevisedSizePct
		decision.RevisedSizePct = &revised
	}
	return nil
}

func (f *Fake) SetDecisionManualReview(ctx context.Context, id uint64, deadline *time.Time, required bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	decision, ok := f.Decisions[id]
	if !ok {
		return nil
	}
	decision.RequiresManualReview = required
	decision.ReviewDeadline = deadline
	return nil
}

func (f *Fake) MarkDecisionExecuted(ctx context.Context, id uint64) (bool, error) {
	return f.markExecuted(id)
}

func (f *Fake) MarkDecisionExecutedTx(ctx context.Context, tx *gorm.DB, id uint64) (bool, error) {
	return f.markExecuted(id)
}

func (f *Fake) markExecuted(id uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	decision, ok := f.Decisions[id]
	if !ok || decision.Executed {
		return false, nil
	}
	decision.Executed = true
	return true, nil
}

func (f *Fake) TimeoutDecision(ctx context.Context, id uint64, comments string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	decision, ok := f.Decisions[id]
	if !ok || decision.Executed {
		return nil
	}
	verdict := models.ValidationTimeout
	decision.ValidationDecision = &verdict
	decision.ValidationComments = &comments
	return nil
}

// --- Portfolio snapshots -----------------------------------------------------

func (f *Fake) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSnapshotID++
	item.ID = f.nextSnapshotID
	item.CreatedAt = time.Now().UTC()
	f.Snapshots = append(f.Snapshots, *item)
	return nil
}

func (f *Fake) ListPortfolioSnapshots(ctx context.Context, params repository.ListSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PortfolioSnapshot(nil), f.Snapshots...), nil
}
