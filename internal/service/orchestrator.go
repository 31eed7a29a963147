package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocktrader/internal/advisor"
	"stocktrader/internal/config"
	"stocktrader/internal/decision"
	"stocktrader/internal/ledger"
	"stocktrader/internal/models"
	"stocktrader/internal/repository"
	"stocktrader/internal/screener"
	"stocktrader/internal/risk"
)

// Orchestrator is the trading control loop. One polling iteration runs
// the pending-trade sweep, a deep revaluation when due, and per-position
// monitoring, in that order. Phases are cooperative; nothing inside an
// iteration runs concurrently with another iteration.
type Orchestrator struct {
	Repo     repository.Repository
	Ledger   *ledger.Manager
	Screener *screener.Screener
	Advisor  advisor.Advisor
	Engine   *decision.Engine
	Quotes   QuoteSource
	Risk     *risk.Manager
	Clock    decision.MarketClock
	Logger   *zap.Logger

	Trading config.TradingConfig

	lastDeepScan time.Time
}

func NewOrchestrator(
	repo repository.Repository,
	book *ledger.Manager,
	screen *screener.Screener,
	adv advisor.Advisor,
	engine *decision.Engine,
	quotes QuoteSource,
	riskManager *risk.Manager,
	clock decision.MarketClock,
	trading config.TradingConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		Repo:     repo,
		Ledger:   book,
		Screener: screen,
		Advisor:  adv,
		Engine:   engine,
		Quotes:   quotes,
		Risk:     riskManager,
		Clock:    clock,
		Trading:  trading,
		Logger:   logger,
	}
}

// RunStartup initializes the books and, when configured, runs one full
// screening pass over the universe before the loop starts.
func (o *Orchestrator) RunStartup(ctx context.Context) error {
	if o == nil || o.Ledger == nil {
		return fmt.Errorf("orchestrator not configured")
	}

	if _, err := o.Ledger.Initialize(ctx, o.Trading.InitialBalance); err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}

	if !o.Trading.StartupScreenPass {
		return nil
	}
	o.screeningPass(ctx, "screening")
	o.lastDeepScan = time.Now()
	return nil
}

// Run is the polling loop. It returns when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.Trading.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if o.Logger != nil {
		o.Logger.Info("trading loop started",
			zap.Duration("poll_interval", interval),
			zap.String("mode", o.Trading.Mode),
		)
	}

	for {
		select {
		case <-ctx.Done():
			if o.Logger != nil {
				o.Logger.Info("trading loop stopped")
			}
			return
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

// runCycle is one iteration: sweep, deep revaluation if due, position
// monitoring. Every phase failure is logged and skipped; the loop never
// dies on a bad cycle.
func (o *Orchestrator) runCycle(ctx context.Context) {
	if executed, err := o.Engine.SweepPending(ctx); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("pending sweep failed", zap.Error(err))
		}
	} else if executed > 0 && o.Logger != nil {
		o.Logger.Info("pending sweep executed decisions", zap.Int("executed", executed))
	}

	if o.Clock != nil && !o.Clock.IsOpen() {
		return
	}

	if o.deepScanDue() {
		o.screeningPass(ctx, "deep_scan")
		o.lastDeepScan = time.Now()
	}

	o.monitorPositions(ctx)
}

func (o *Orchestrator) deepScanDue() bool {
	interval := o.Trading.DeepScanInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return time.Since(o.lastDeepScan) >= interval
}

// screeningPass screens the universe, selects candidates and routes
// each advisor proposal through the decision engine. A failing ticker
// never aborts the pass.
func (o *Orchestrator) screeningPass(ctx context.Context, source string) {
	if o.Screener == nil || o.Advisor == nil || o.Engine == nil {
		return
	}
	if len(o.Trading.Universe) == 0 {
		if o.Logger != nil {
			o.Logger.Warn("empty trading universe, skipping screening pass")
		}
		return
	}

	results, err := o.Screener.Screen(ctx, o.Trading.Universe)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("screening pass failed", zap.Error(err))
		}
		return
	}
	candidates := o.Screener.Select(results)

	if o.Logger != nil {
		o.Logger.Info("screening pass complete",
			zap.String("source", source),
			zap.Int("universe", len(results)),
			zap.Int("candidates", len(candidates)),
		)
	}

	cash, total, _, err := o.Ledger.CashAndValue(ctx)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("portfolio valuation failed", zap.Error(err))
		}
		return
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return
		}

		rec, err := o.Advisor.Propose(ctx, advisor.ProposeRequest{
			Symbol:         candidate.Ticker,
			Price:          candidate.Set.CurrentPrice,
			Indicators:     candidate.Set,
			CashBalance:    cash,
			PortfolioValue: total,
		})
		if err != nil {
			if o.Logger != nil {
				o.Logger.Warn("advisor proposal failed",
					zap.String("ticker", candidate.Ticker),
					zap.Error(err),
				)
			}
			continue
		}
		if rec == nil {
			continue
		}

		if _, err := o.Engine.HandleRecommendation(ctx, *rec, source); err != nil {
			if o.Logger != nil {
				o.Logger.Warn("decision handling failed",
					zap.String("ticker", candidate.Ticker),
					zap.Error(err),
				)
			}
		}
	}
}

// monitorPositions refreshes prices for every open position, fires
// stop-loss sells directly, and asks the advisor whether winners should
// be taken off.
func (o *Orchestrator) monitorPositions(ctx context.Context) {
	if o.Repo == nil || o.Quotes == nil {
		return
	}

	positions, err := o.Repo.ListPositions(ctx)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("listing positions failed", zap.Error(err))
		}
		return
	}

	for _, position := range positions {
		if err := ctx.Err(); err != nil {
			return
		}
		o.monitorPosition(ctx, position)
	}
}

func (o *Orchestrator) monitorPosition(ctx context.Context, position models.Position) {
	quote, err := o.Quotes.GetQuote(ctx, position.Symbol)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("quote refresh failed",
				zap.String("symbol", position.Symbol),
				zap.Error(err),
			)
		}
		return
	}
	price := quote.Price
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}

	unrealized := price.Sub(position.EntryPrice).Mul(position.Quantity)
	if err := o.Repo.UpdatePositionPrice(ctx, position.Symbol, price, unrealized); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("price update failed",
				zap.String("symbol", position.Symbol),
				zap.Error(err),
			)
		}
	}

	// Stop-loss bypasses the advisor: the position is sold at market
	// without a decision record beyond the trade row itself.
	if o.Risk.ShouldStopOut(position.EntryPrice, price) {
		if o.Logger != nil {
			o.Logger.Warn("stop loss triggered",
				zap.String("symbol", position.Symbol),
				zap.String("entry_price", position.EntryPrice.String()),
				zap.String("price", price.String()),
			)
		}
		err := o.Ledger.ApplyFill(ctx, ledger.Fill{
			Symbol:    position.Symbol,
			Action:    models.ActionSell,
			Quantity:  position.Quantity,
			Price:     price,
			Reasoning: "stop loss triggered",
		})
		if err != nil && o.Logger != nil {
			o.Logger.Error("stop loss sell failed",
				zap.String("symbol", position.Symbol),
				zap.Error(err),
			)
		}
		return
	}

	o.advisorCheck(ctx, position, price)
}

// advisorCheck asks for an intraday second look at a held position and
// routes any SELL proposal through the lifecycle.
func (o *Orchestrator) advisorCheck(ctx context.Context, position models.Position, price decimal.Decimal) {
	if o.Advisor == nil || o.Engine == nil {
		return
	}

	cash, total, _, err := o.Ledger.CashAndValue(ctx)
	if err != nil {
		return
	}

	priceF, _ := price.Float64()
	entryF, _ := position.EntryPrice.Float64()
	quantityF, _ := position.Quantity.Float64()
	pnlPct := 0.0
	if entryF > 0 {
		pnlPct = (priceF - entryF) / entryF
	}

	rec, err := o.Advisor.Propose(ctx, advisor.ProposeRequest{
		Symbol:          position.Symbol,
		Price:           priceF,
		CashBalance:     cash,
		PortfolioValue:  total,
		HoldingQuantity: quantityF,
		HoldingEntry:    entryF,
		HoldingPnLPct:   pnlPct,
	})
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("position check failed",
				zap.String("symbol", position.Symbol),
				zap.Error(err),
			)
		}
		return
	}
	if rec == nil || rec.Action != models.ActionSell {
		return
	}
	if rec.Confidence < o.Trading.SellConfidence {
		return
	}

	if _, err := o.Engine.HandleRecommendation(ctx, *rec, "monitoring"); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("sell decision handling failed",
				zap.String("symbol", position.Symbol),
				zap.Error(err),
			)
		}
	}
}
