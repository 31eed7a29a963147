package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocktrader/internal/config"
	"stocktrader/internal/models"
)

// TradeCheck is everything the risk gate needs to judge one order.
type TradeCheck struct {
	Action         string
	Symbol         string
	Cost           decimal.Decimal // order notional: quantity * price
	PositionValue  decimal.Decimal // market value already held in Symbol
	CashBalance    decimal.Decimal
	PortfolioValue decimal.Decimal // cash + market value of positions
	OpenPositions  int
	HasPosition    bool // an open position already exists for Symbol
}

// Verdict is the gate's answer. Reason is set only on rejection.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func approve() Verdict {
	return Verdict{Approved: true}
}

func reject(reason string) Verdict {
	return Verdict{Approved: false, Reason: reason}
}

// Manager enforces position sizing, position count and cash limits
// before any order reaches the ledger.
type Manager struct {
	Config config.RiskConfig
	Logger *zap.Logger
}

func New(cfg config.RiskConfig, logger *zap.Logger) *Manager {
	return &Manager{Config: cfg, Logger: logger}
}

// ValidateTrade applies the risk limits. SELL orders always pass: they
// only reduce exposure, and ledger checks catch oversells.
func (m *Manager) ValidateTrade(check TradeCheck) Verdict {
	if m == nil {
		return reject("risk manager not configured")
	}

	if check.Action != models.ActionBuy {
		return approve()
	}

	if check.Cost.LessThanOrEqual(decimal.Zero) {
		return reject("order cost must be positive")
	}

	if check.Cost.GreaterThan(check.CashBalance) {
		return m.rejected(check, fmt.Sprintf(
			"cost %s exceeds cash balance %s",
			check.Cost.StringFixed(2), check.CashBalance.StringFixed(2),
		))
	}

	maxPct := decimal.NewFromFloat(m.Config.MaxPositionPct)
	if maxPct.GreaterThan(decimal.Zero) {
		limit := check.PortfolioValue.Mul(maxPct)
		exposure := check.PositionValue.Add(check.Cost)
		if exposure.GreaterThan(limit) {
			return m.rejected(check, fmt.Sprintf(
				"post-trade exposure %s exceeds position limit %s (%s%% of portfolio %s)",
				exposure.StringFixed(2), limit.StringFixed(2),
				maxPct.Mul(decimal.NewFromInt(100)).StringFixed(0),
				check.PortfolioValue.StringFixed(2),
			))
		}
	}

	if m.Config.MaxPositions > 0 && !check.HasPosition && check.OpenPositions >= m.Config.MaxPositions {
		return m.rejected(check, fmt.Sprintf(
			"already holding %d of %d allowed positions",
			check.OpenPositions, m.Config.MaxPositions,
		))
	}

	return approve()
}

// ShouldStopOut reports whether a position has fallen through the
// stop-loss threshold relative to its entry price.
func (m *Manager) ShouldStopOut(entryPrice, currentPrice decimal.Decimal) bool {
	if m == nil || m.Config.StopLossPct <= 0 {
		return false
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) || currentPrice.LessThanOrEqual(decimal.Zero) {
		return false
	}

	floor := entryPrice.Mul(decimal.NewFromFloat(1.0 - m.Config.StopLossPct))
	return currentPrice.LessThan(floor)
}

func (m *Manager) rejected(check TradeCheck, reason string) Verdict {
	if m.Logger != nil {
		m.Logger.Warn("trade rejected by risk gate",
			zap.String("symbol", check.Symbol),
			zap.String("action", check.Action),
			zap.String("reason", reason),
		)
	}
	return reject(reason)
}
