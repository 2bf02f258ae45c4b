package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TreasuryBalance is the running per-(chain, asset) balance owned by the
// risk layer. Only settlement and execution events mutate it, and only
// through the risk service.
type TreasuryBalance struct {
	ID        uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Chain     Chain           `json:"chain" gorm:"not null;uniqueIndex:idx_treasury_chain_asset,priority:1"`
	Asset     string          `json:"asset" gorm:"not null;uniqueIndex:idx_treasury_chain_asset,priority:2"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(38,18);not null;default:0"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DailySpending accumulates per-(chain, date) outflow. A new row per date,
// never mutated across date boundaries; date rollover is implicit.
type DailySpending struct {
	ID               uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Chain            Chain           `json:"chain" gorm:"not null;uniqueIndex:idx_daily_chain_date,priority:1"`
	Date             string          `json:"date" gorm:"not null;uniqueIndex:idx_daily_chain_date,priority:2"` // YYYY-MM-DD, UTC
	AmountSpent      decimal.Decimal `json:"amount_spent" gorm:"type:numeric(38,18);not null;default:0;check:amount_spent >= 0"`
	TransactionCount int             `json:"transaction_count" gorm:"not null;default:0"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CircuitBreakerState is one trip interval [triggered_at, resolved_at) for
// a chain. The chain is tripped iff any row has resolved_at IS NULL.
// History is retained across trips.
type CircuitBreakerState struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Chain       Chain      `json:"chain" gorm:"not null;index"`
	Reason      string     `json:"reason" gorm:"type:text;not null"`
	TriggeredBy string     `json:"triggered_by" gorm:"not null"`
	TriggeredAt time.Time  `json:"triggered_at" gorm:"not null"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" gorm:"index"`
}

// Audit event types recorded by the engine.
const (
	AuditQuoteCreated       = "quote_created"
	AuditQuoteCommitted     = "quote_committed"
	AuditQuoteExecuted      = "quote_executed"
	AuditQuoteFailed        = "quote_failed"
	AuditQuoteExpired       = "quote_expired"
	AuditApprovalCreated    = "approval_created"
	AuditApprovalAuthorized = "approval_authorized"
	AuditApprovalRejected   = "approval_rejected"
	AuditFundingRecorded    = "funding_payment_recorded"
	AuditExecutionRecorded  = "execution_result_recorded"
	AuditBreakerTripped     = "circuit_breaker_tripped"
	AuditBreakerReset       = "circuit_breaker_reset"
	AuditLimitViolation     = "daily_limit_violation"
	AuditSpendRecorded      = "spend_recorded"
)

// AuditLogEntry is append-only; rows are never updated or deleted.
type AuditLogEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EventType string    `json:"event_type" gorm:"not null;index"`
	Chain     Chain     `json:"chain,omitempty" gorm:"index"`
	EntityID  string    `json:"entity_id,omitempty" gorm:"index"`
	UserID    string    `json:"user_id,omitempty" gorm:"index"`
	Detail    string    `json:"detail,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
