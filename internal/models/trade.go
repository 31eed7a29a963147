package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an append-only record of an executed fill. Rows are written once
// and never updated; the trade history is the audit trail for the ledger.
type Trade struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol string `gorm:"type:varchar(20);not null;index" json:"symbol"`
	Action string `gorm:"type:varchar(10);not null" json:"action"`

	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"quantity"`
	Price    decimal.Decimal `gorm:"type:numeric(20,10);not null" json:"price"`

	Reasoning string `gorm:"type:text" json:"reasoning,omitempty"`
	Escalated bool   `gorm:"not null;default:false" json:"escalated"`

	ExecutedAt time.Time `gorm:"type:timestamptz;not null;index" json:"executed_at"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (Trade) TableName() string {
	return "trades"
}
