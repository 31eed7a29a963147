package advisor

import (
	"context"

	"stocktrader/internal/indicator"
)

// Recommendation is a structured trade proposal. SizePct is the
// fraction of portfolio value to commit, 0 for SELL and HOLD.
type Recommendation struct {
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	SizePct    float64 `json:"size_pct"`
	Reasoning  string  `json:"reasoning"`
	Escalated  bool    `json:"escalated"`
}

// Validation is the advisor's second-opinion verdict on a proposal.
// Confidence and SizePct are set only on MODIFY.
type Validation struct {
	Decision   string   `json:"decision"`
	Confidence *float64 `json:"confidence,omitempty"`
	SizePct    *float64 `json:"size_pct,omitempty"`
	Comments   string   `json:"comments"`
}

// ProposeRequest carries the market context for one symbol.
type ProposeRequest struct {
	Symbol          string        `json:"symbol"`
	Price           float64       `json:"price"`
	Indicators      indicator.Set `json:"indicators"`
	CashBalance     float64       `json:"cash_balance"`
	PortfolioValue  float64       `json:"portfolio_value"`
	HoldingQuantity float64       `json:"holding_quantity"`
	HoldingEntry    float64       `json:"holding_entry_price"`
	HoldingPnLPct   float64       `json:"holding_pnl_pct"`
}

// ValidateRequest carries a proposal plus the portfolio state the
// validator should judge it against.
type ValidateRequest struct {
	Recommendation Recommendation `json:"recommendation"`
	CashBalance    float64        `json:"cash_balance"`
	PortfolioValue float64        `json:"portfolio_value"`
	OpenPositions  int            `json:"open_positions"`
	MaxPositions   int            `json:"max_positions"`
}

// Advisor proposes trades and validates proposals. Implementations may
// be backed by a model endpoint or by canned rules in tests.
type Advisor interface {
	Propose(ctx context.Context, req ProposeRequest) (*Recommendation, error)
	Validate(ctx context.Context, req ValidateRequest) (*Validation, error)
}
