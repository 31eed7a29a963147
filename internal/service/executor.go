package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocktrader/internal/config"
	"stocktrader/internal/ledger"
	"stocktrader/internal/marketdata"
	"stocktrader/internal/models"
	"stocktrader/internal/repository"
	"stocktrader/internal/risk"
)

// QuoteSource is the slice of the market data provider the executor
// needs.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

// Executor turns actionable decisions into fills: fresh quote, share
// sizing, risk gate, then the atomic ledger transaction. It returns
// (false, nil) when it declines an order for a business reason; the
// decision stays untouched for a later sweep or times out upstream.
type Executor struct {
	Ledger *ledger.Manager
	Repo   repository.Repository
	Quotes QuoteSource
	Risk   *risk.Manager
	Logger *zap.Logger

	Trading config.TradingConfig
}

func NewExecutor(
	book *ledger.Manager,
	repo repository.Repository,
	quotes QuoteSource,
	riskManager *risk.Manager,
	trading config.TradingConfig,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		Ledger:  book,
		Repo:    repo,
		Quotes:  quotes,
		Risk:    riskManager,
		Trading: trading,
		Logger:  logger,
	}
}

func (x *Executor) Execute(ctx context.Context, dec models.Decision) (bool, error) {
	if x == nil || x.Ledger == nil || x.Quotes == nil {
		return false, fmt.Errorf("executor not configured")
	}

	quote, err := x.Quotes.GetQuote(ctx, dec.Symbol)
	if err != nil {
		return false, fmt.Errorf("fresh quote for %s: %w", dec.Symbol, err)
	}
	if quote.Price.LessThanOrEqual(decimal.Zero) {
		if x.Logger != nil {
			x.Logger.Warn("declining execution on zero price",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", dec.Symbol),
			)
		}
		return false, nil
	}

	switch dec.Action {
	case models.ActionBuy:
		return x.executeBuy(ctx, dec, quote.Price)
	case models.ActionSell:
		return x.executeSell(ctx, dec, quote.Price)
	default:
		return false, fmt.Errorf("cannot execute action %q", dec.Action)
	}
}

func (x *Executor) executeBuy(ctx context.Context, dec models.Decision, price decimal.Decimal) (bool, error) {
	valuation, err := x.Ledger.Valuate(ctx)
	if err != nil {
		return false, err
	}

	sizePct := dec.EffectiveSizePct()
	if sizePct <= 0 {
		if x.Logger != nil {
			x.Logger.Warn("declining buy with no position size",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", dec.Symbol),
			)
		}
		return false, nil
	}

	quantity := shareQuantity(valuation.TotalValue, valuation.CashBalance, price, sizePct)
	if quantity.LessThanOrEqual(decimal.Zero) {
		if x.Logger != nil {
			x.Logger.Warn("declining buy, cannot afford a single share",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", dec.Symbol),
				zap.String("price", price.String()),
			)
		}
		return false, nil
	}
	cost := quantity.Mul(price)

	hasPosition := false
	heldValue := decimal.Zero
	for _, position := range valuation.Positions {
		if position.Symbol == dec.Symbol {
			hasPosition = true
			heldValue = position.MarketValue()
			break
		}
	}

	verdict := x.Risk.ValidateTrade(risk.TradeCheck{
		Action:         models.ActionBuy,
		Symbol:         dec.Symbol,
		Cost:           cost,
		PositionValue:  heldValue,
		CashBalance:    valuation.CashBalance,
		PortfolioValue: valuation.TotalValue,
		OpenPositions:  len(valuation.Positions),
		HasPosition:    hasPosition,
	})
	if !verdict.Approved {
		return false, nil
	}

	replay := dec.ReplayContext()
	err = x.Ledger.ApplyFill(ctx, ledger.Fill{
		DecisionID: dec.ID,
		Symbol:     dec.Symbol,
		Action:     models.ActionBuy,
		Quantity:   quantity,
		Price:      price,
		Reasoning:  replay.Reasoning,
		Escalated:  replay.Escalated,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyExecuted) {
			return false, nil
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			if x.Logger != nil {
				x.Logger.Warn("buy declined by ledger",
					zap.Uint64("decision_id", dec.ID),
					zap.Error(err),
				)
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (x *Executor) executeSell(ctx context.Context, dec models.Decision, price decimal.Decimal) (bool, error) {
	position, err := x.Repo.GetPositionBySymbol(ctx, dec.Symbol)
	if err != nil {
		return false, err
	}
	if position == nil {
		// Nothing to sell; close the decision so the sweep stops
		// retrying it.
		if x.Logger != nil {
			x.Logger.Warn("sell decision with no open position",
				zap.Uint64("decision_id", dec.ID),
				zap.String("symbol", dec.Symbol),
			)
		}
		_, err := x.Repo.MarkDecisionExecuted(ctx, dec.ID)
		return false, err
	}

	replay := dec.ReplayContext()
	err = x.Ledger.ApplyFill(ctx, ledger.Fill{
		DecisionID: dec.ID,
		Symbol:     dec.Symbol,
		Action:     models.ActionSell,
		Quantity:   position.Quantity,
		Price:      price,
		Reasoning:  replay.Reasoning,
		Escalated:  replay.Escalated,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyExecuted) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// shareQuantity sizes a buy: floor of the budget (sizePct of portfolio
// value) at the quoted price, at least one share, capped by what cash
// actually covers. Zero when even one share is unaffordable.
func shareQuantity(totalValue, cash, price decimal.Decimal, sizePct float64) decimal.Decimal {
	budget := totalValue.Mul(decimal.NewFromFloat(sizePct))
	quantity := budget.Div(price).Floor()
	if quantity.LessThan(decimal.NewFromInt(1)) {
		quantity = decimal.NewFromInt(1)
	}

	if quantity.Mul(price).GreaterThan(cash) {
		quantity = cash.Div(price).Floor()
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return quantity
}
