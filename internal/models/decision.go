package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Decision lifecycle: proposed -> validated -> executed | rejected |
// pending manual review | timed out. Rows are never deleted.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"

	ValidationProceed      = "PROCEED"
	ValidationModify       = "MODIFY"
	ValidationReject       = "REJECT"
	ValidationManualOK     = "MANUAL_APPROVE"
	ValidationManualReject = "MANUAL_REJECT"
	ValidationTimeout      = "TIMEOUT"
)

// DecisionContext is the typed replay payload stored alongside a Decision so
// a deferred execution survives a restart without re-asking the advisor.
type DecisionContext struct {
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	SizePct    float64 `json:"size_pct"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Source     string  `json:"source"`
	Escalated  bool    `json:"escalated,omitempty"`
}

type Decision struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol string `gorm:"type:varchar(20);not null;index" json:"symbol"`
	Source string `gorm:"type:varchar(20);not null" json:"source"`

	Action     string  `gorm:"type:varchar(10);not null" json:"action"`
	Confidence float64 `gorm:"not null" json:"confidence"`
	SizePct    float64 `gorm:"not null;default:0" json:"size_pct"`

	Context datatypes.JSON `gorm:"type:jsonb" json:"context,omitempty"`

	ValidationDecision *string    `gorm:"type:varchar(20)" json:"validation_decision,omitempty"`
	ValidationComments *string    `gorm:"type:text" json:"validation_comments,omitempty"`
	RevisedConfidence  *float64   `json:"revised_confidence,omitempty"`
	RevisedSizePct     *float64   `json:"revised_size_pct,omitempty"`
	ValidatedAt        *time.Time `gorm:"type:timestamptz" json:"validated_at,omitempty"`

	RequiresManualReview bool       `gorm:"not null;default:false;index" json:"requires_manual_review"`
	Executed             bool       `gorm:"not null;default:false;index" json:"executed"`
	ReviewDeadline       *time.Time `gorm:"type:timestamptz" json:"review_deadline,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Decision) TableName() string {
	return "decisions"
}

// ReplayContext decodes the stored proposal payload. A missing or corrupt
// payload falls back to the row's own columns.
func (d Decision) ReplayContext() DecisionContext {
	out := DecisionContext{
		Action:     d.Action,
		Symbol:     d.Symbol,
		Confidence: d.Confidence,
		SizePct:    d.SizePct,
		Source:     d.Source,
	}
	if len(d.Context) == 0 {
		return out
	}
	var decoded DecisionContext
	if err := json.Unmarshal(d.Context, &decoded); err != nil {
		return out
	}
	return decoded
}

// EffectiveConfidence prefers the validator's revision when present.
func (d Decision) EffectiveConfidence() float64 {
	if d.RevisedConfidence != nil {
		return *d.RevisedConfidence
	}
	return d.Confidence
}

// EffectiveSizePct prefers the validator's revision when present.
func (d Decision) EffectiveSizePct() float64 {
	if d.RevisedSizePct != nil && *d.RevisedSizePct > 0 {
		return *d.RevisedSizePct
	}
	return d.SizePct
}

// Actionable reports whether this decision is waiting on the pending-trade
// sweep: validated PROCEED/MODIFY, not executed, not gated on manual review.
func (d Decision) Actionable() bool {
	if d.Executed || d.RequiresManualReview || d.ValidationDecision == nil {
		return false
	}
	switch *d.ValidationDecision {
	case ValidationProceed, ValidationModify, ValidationManualOK:
		return true
	}
	return false
}
