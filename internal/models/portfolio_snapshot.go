package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a periodic record of total account value, used for
// history charts and drift checks. Derived data, never read back by trading.
type PortfolioSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	CashBalance decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"cash_balance"`
	MarketValue decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"market_value"`
	TotalValue  decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_value"`
	Positions   int             `gorm:"not null;default:0" json:"positions"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}
