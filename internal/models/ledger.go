package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the single durable cash balance row. Only fills mutate it, and
// always inside the same transaction as the trade and position rows.
type Ledger struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CashBalance decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"cash_balance"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Ledger) TableName() string {
	return "ledgers"
}
