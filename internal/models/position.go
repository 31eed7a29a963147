package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding. A row exists iff quantity > 0; sells that
// drain the quantity below the dust epsilon delete the row.
type Position struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol string `gorm:"type:varchar(20);not null;uniqueIndex" json:"symbol"`

	Quantity      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"quantity"`
	EntryPrice    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"entry_price"`
	CurrentPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"current_price"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0" json:"unrealized_pnl"`

	OpenedAt  time.Time `gorm:"type:timestamptz;not null" json:"opened_at"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// MarketValue is quantity times the last seen price.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}
