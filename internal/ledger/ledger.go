package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stocktrader/internal/models"
	"stocktrader/internal/repository"
)

var (
	// ErrInsufficientFunds rejects a buy whose cost exceeds the cash
	// balance. Nothing is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPosition rejects a sell for a symbol with no open position.
	ErrNoPosition = errors.New("no open position")

	// ErrAlreadyExecuted means the fill's decision was executed by a
	// concurrent path; the whole fill rolls back.
	ErrAlreadyExecuted = errors.New("decision already executed")
)

// dustEpsilon is the residual quantity below which a position row is
// deleted rather than kept as unsellable dust.
var dustEpsilon = decimal.NewFromFloat(1e-4)

// Fill is one executed order to apply to the books. DecisionID zero
// means the fill is not tied to a decision record (stop-loss sells).
type Fill struct {
	DecisionID uint64
	Symbol     string
	Action     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Reasoning  string
	Escalated  bool
	ExecutedAt time.Time
}

// Manager owns the cash balance and position book. Every fill runs as
// one transaction: cash, position, trade row and decision flag move
// together or not at all.
type Manager struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func New(repo repository.Repository, logger *zap.Logger) *Manager {
	return &Manager{Repo: repo, Logger: logger}
}

// Initialize creates the ledger row with the starting balance when none
// exists yet. An existing balance is left alone.
func (m *Manager) Initialize(ctx context.Context, initialBalance float64) (*models.Ledger, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("ledger manager not configured")
	}
	return m.Repo.EnsureLedger(ctx, decimal.NewFromFloat(initialBalance))
}

// ApplyFill applies one fill atomically. Buys debit cash and raise the
// weighted average entry price; sells credit cash and drain or delete
// the position. A fill tied to a decision flips executed=false to true
// inside the same transaction and fails with ErrAlreadyExecuted when
// another path got there first.
func (m *Manager) ApplyFill(ctx context.Context, fill Fill) error {
	if m == nil || m.Repo == nil {
		return fmt.Errorf("ledger manager not configured")
	}
	if fill.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("fill quantity must be positive")
	}
	if fill.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("fill price must be positive")
	}
	if fill.ExecutedAt.IsZero() {
		fill.ExecutedAt = time.Now().UTC()
	}

	err := m.Repo.InTx(ctx, func(tx *gorm.DB) error {
		book, err := m.Repo.GetLedgerForUpdateTx(ctx, tx)
		if err != nil {
			return err
		}

		switch fill.Action {
		case models.ActionBuy:
			if err := m.applyBuy(ctx, tx, book, &fill); err != nil {
				return err
			}
		case models.ActionSell:
			if err := m.applySell(ctx, tx, book, &fill); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown fill action %q", fill.Action)
		}

		if err := m.Repo.SaveLedgerTx(ctx, tx, book); err != nil {
			return err
		}

		trade := &models.Trade{
			Symbol:     fill.Symbol,
			Action:     fill.Action,
			Quantity:   fill.Quantity,
			Price:      fill.Price,
			Reasoning:  fill.Reasoning,
			Escalated:  fill.Escalated,
			ExecutedAt: fill.ExecutedAt,
		}
		if err := m.Repo.InsertTradeTx(ctx, tx, trade); err != nil {
			return err
		}

		if fill.DecisionID != 0 {
			updated, err := m.Repo.MarkDecisionExecutedTx(ctx, tx, fill.DecisionID)
			if err != nil {
				return err
			}
			if !updated {
				return ErrAlreadyExecuted
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if m.Logger != nil {
		m.Logger.Info("fill applied",
			zap.String("symbol", fill.Symbol),
			zap.String("action", fill.Action),
			zap.String("quantity", fill.Quantity.String()),
			zap.String("price", fill.Price.String()),
			zap.Uint64("decision_id", fill.DecisionID),
		)
	}
	return nil
}

func (m *Manager) applyBuy(ctx context.Context, tx *gorm.DB, book *models.Ledger, fill *Fill) error {
	cost := fill.Quantity.Mul(fill.Price)
	if cost.GreaterThan(book.CashBalance) {
		return fmt.Errorf("%w: cost %s, cash %s",
			ErrInsufficientFunds, cost.StringFixed(2), book.CashBalance.StringFixed(2))
	}
	book.CashBalance = book.CashBalance.Sub(cost)

	position, err := m.Repo.GetPositionBySymbolTx(ctx, tx, fill.Symbol)
	if err != nil {
		return err
	}
	if position == nil {
		position = &models.Position{
			Symbol:       fill.Symbol,
			Quantity:     fill.Quantity,
			EntryPrice:   fill.Price,
			CurrentPrice: fill.Price,
			OpenedAt:     fill.ExecutedAt,
		}
	} else {
		// Weighted average entry across the old and new lots.
		oldCost := position.Quantity.Mul(position.EntryPrice)
		newQuantity := position.Quantity.Add(fill.Quantity)
		position.EntryPrice = oldCost.Add(cost).Div(newQuantity)
		position.Quantity = newQuantity
		position.CurrentPrice = fill.Price
	}
	position.UnrealizedPnL = fill.Price.Sub(position.EntryPrice).Mul(position.Quantity)

	return m.Repo.SavePositionTx(ctx, tx, position)
}

func (m *Manager) applySell(ctx context.Context, tx *gorm.DB, book *models.Ledger, fill *Fill) error {
	position, err := m.Repo.GetPositionBySymbolTx(ctx, tx, fill.Symbol)
	if err != nil {
		return err
	}
	if position == nil {
		return fmt.Errorf("%w: %s", ErrNoPosition, fill.Symbol)
	}

	if fill.Quantity.GreaterThan(position.Quantity) {
		fill.Quantity = position.Quantity
	}

	book.CashBalance = book.CashBalance.Add(fill.Quantity.Mul(fill.Price))

	remaining := position.Quantity.Sub(fill.Quantity)
	if remaining.LessThan(dustEpsilon) {
		return m.Repo.DeletePositionTx(ctx, tx, position.ID)
	}

	position.Quantity = remaining
	position.CurrentPrice = fill.Price
	position.UnrealizedPnL = fill.Price.Sub(position.EntryPrice).Mul(remaining)
	return m.Repo.SavePositionTx(ctx, tx, position)
}

// Balance returns the current cash balance.
func (m *Manager) Balance(ctx context.Context) (decimal.Decimal, error) {
	if m == nil || m.Repo == nil {
		return decimal.Zero, fmt.Errorf("ledger manager not configured")
	}
	book, err := m.Repo.GetLedger(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if book == nil {
		return decimal.Zero, nil
	}
	return book.CashBalance, nil
}

// Valuation is the portfolio rollup: cash plus the market value of
// every open position at last seen prices.
type Valuation struct {
	CashBalance decimal.Decimal   `json:"cash_balance"`
	MarketValue decimal.Decimal   `json:"market_value"`
	TotalValue  decimal.Decimal   `json:"total_value"`
	Positions   []models.Position `json:"positions"`
}

func (m *Manager) Valuate(ctx context.Context) (*Valuation, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("ledger manager not configured")
	}

	cash, err := m.Balance(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := m.Repo.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	marketValue := decimal.Zero
	for _, position := range positions {
		marketValue = marketValue.Add(position.MarketValue())
	}

	return &Valuation{
		CashBalance: cash,
		MarketValue: marketValue,
		TotalValue:  cash.Add(marketValue),
		Positions:   positions,
	}, nil
}

// CashAndValue reports cash, total portfolio value and the open
// position count as floats for validation context.
func (m *Manager) CashAndValue(ctx context.Context) (float64, float64, int, error) {
	valuation, err := m.Valuate(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	cash, _ := valuation.CashBalance.Float64()
	total, _ := valuation.TotalValue.Float64()
	return cash, total, len(valuation.Positions), nil
}

// Snapshot persists the current valuation for the history chart.
func (m *Manager) Snapshot(ctx context.Context) error {
	valuation, err := m.Valuate(ctx)
	if err != nil {
		return err
	}
	return m.Repo.InsertPortfolioSnapshot(ctx, &models.PortfolioSnapshot{
		CashBalance: valuation.CashBalance,
		MarketValue: valuation.MarketValue,
		TotalValue:  valuation.TotalValue,
		Positions:   len(valuation.Positions),
	})
}
