package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stocktrader/internal/models"
)

// Repository is the single durable store for cash, positions, trades and
// decision records. Fill application happens inside InTx so a crash can
// never separate the cash debit from the trade that caused it.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Ledger (cash balance).
	EnsureLedger(ctx context.Context, initial decimal.Decimal) (*models.Ledger, error)
	GetLedger(ctx context.Context) (*models.Ledger, error)
	GetLedgerForUpdateTx(ctx context.Context, tx *gorm.DB) (*models.Ledger, error)
	SaveLedgerTx(ctx context.Context, tx *gorm.DB, item *models.Ledger) error

	// Positions.
	GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error)
	GetPositionBySymbolTx(ctx context.Context, tx *gorm.DB, symbol string) (*models.Position, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
	SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error
	DeletePositionTx(ctx context.Context, tx *gorm.DB, id uint64) error
	UpdatePositionPrice(ctx context.Context, symbol string, price, unrealizedPnL decimal.Decimal) error

	// Trades (append-only).
	InsertTradeTx(ctx context.Context, tx *gorm.DB, item *models.Trade) error
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)
	CountBuyTradesSince(ctx context.Context, symbol string, since time.Time) (int64, error)

	// Decisions (audit trail, never deleted).
	InsertDecision(ctx context.Context, item *models.Decision) error
	GetDecisionByID(ctx context.Context, id uint64) (*models.Decision, error)
	GetLatestDecisionBySymbol(ctx context.Context, symbol string) (*models.Decision, error)
	ListDecisions(ctx context.Context, params ListDecisionsParams) ([]models.Decision, error)
	ListActionableDecisions(ctx context.Context, limit int) ([]models.Decision, error)
	ListPendingReviewDecisions(ctx context.Context) ([]models.Decision, error)
	HasOpenDecision(ctx context.Context, symbol string) (bool, error)
	UpdateDecisionValidation(ctx context.Context, id uint64, update ValidationUpdate) error
	SetDecisionManualReview(ctx context.Context, id uint64, deadline *time.Time, required bool) error
	MarkDecisionExecuted(ctx context.Context, id uint64) (bool, error)
	MarkDecisionExecutedTx(ctx context.Context, tx *gorm.DB, id uint64) (bool, error)
	TimeoutDecision(ctx context.Context, id uint64, comments string) error

	// Portfolio snapshots.
	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListSnapshotsParams) ([]models.PortfolioSnapshot, error)
}

type ValidationUpdate struct {
	Decision          string
	Comments          string
	RevisedConfidence *float64
	RevisedSizePct    *float64
}

type ListTradesParams struct {
	Limit   int
	Offset  int
	Symbol  *string
	Action  *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type ListDecisionsParams struct {
	Limit    int
	Offset   int
	Symbol   *string
	Executed *bool
	Source   *string
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}

type ListSnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}
