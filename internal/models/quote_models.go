package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus lifecycle: pending -> {committed, expired};
// committed -> {executed, failed}. Terminal statuses are immutable.
type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "pending"
	QuoteStatusCommitted QuoteStatus = "committed"
	QuoteStatusExecuted  QuoteStatus = "executed"
	QuoteStatusExpired   QuoteStatus = "expired"
	QuoteStatusFailed    QuoteStatus = "failed"
)

// IsTerminal reports whether no further transition is legal from s.
func (s QuoteStatus) IsTerminal() bool {
	return s == QuoteStatusExecuted || s == QuoteStatusExpired || s == QuoteStatusFailed
}

// Quote is a priced, time-boxed offer to convert a funding-chain payment
// into an execution-chain delivery. Status transitions are serialized per
// quote id through conditional updates; see repository.QuoteRepository.
type Quote struct {
	ID                    string          `json:"id" gorm:"primaryKey"` // UUID
	UserID                string          `json:"user_id" gorm:"not null;index"`
	FundingChain          Chain           `json:"funding_chain" gorm:"not null"`
	FundingAsset          string          `json:"funding_asset" gorm:"not null"`
	ExecutionChain        Chain           `json:"execution_chain" gorm:"not null"`
	ExecutionAsset        string          `json:"execution_asset" gorm:"not null"`
	MaxFundingAmount      decimal.Decimal `json:"max_funding_amount" gorm:"type:numeric(38,18);not null;check:max_funding_amount > 0"`
	ExecutionCost         decimal.Decimal `json:"execution_cost" gorm:"type:numeric(38,18);not null;check:execution_cost > 0"`
	ServiceFee            decimal.Decimal `json:"service_fee" gorm:"type:numeric(38,18);not null;default:0;check:service_fee >= 0"`
	ExecutionInstructions []byte          `json:"execution_instructions" gorm:"type:bytea"` // opaque, chain-agnostic
	Nonce                 string          `json:"nonce" gorm:"not null;uniqueIndex"`
	Status                QuoteStatus     `json:"status" gorm:"not null;default:'pending';index"`
	FailureReason         string          `json:"failure_reason,omitempty" gorm:"type:text"`
	ExpiresAt             time.Time       `json:"expires_at" gorm:"not null;index"`
	CommittedAt           *time.Time      `json:"committed_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// SpendingApproval authorizes spending for exactly one quote. The nonce is
// single-use replay protection; is_used only ever flips false -> true, and
// a used approval always carries the signature that consumed it.
type SpendingApproval struct {
	ID              string          `json:"id" gorm:"primaryKey"` // UUID
	QuoteID         string          `json:"quote_id" gorm:"not null;index"`
	UserID          string          `json:"user_id" gorm:"not null;index"`
	Chain           Chain           `json:"chain" gorm:"not null"` // funding chain, selects the signature scheme
	Asset           string          `json:"asset" gorm:"not null"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount" gorm:"type:numeric(38,18);not null;check:approved_amount > 0"`
	FeeAmount       decimal.Decimal `json:"fee_amount" gorm:"type:numeric(38,18);not null;default:0;check:fee_amount >= 0"`
	GasAmount       decimal.Decimal `json:"gas_amount" gorm:"type:numeric(38,18);not null;default:0;check:gas_amount >= 0"`
	ExecutionAmount decimal.Decimal `json:"execution_amount" gorm:"type:numeric(38,18);not null;check:execution_amount > 0"`
	WalletAddress   string          `json:"wallet_address" gorm:"not null"`
	TreasuryAddress string          `json:"treasury_address" gorm:"not null"`
	Nonce           string          `json:"nonce" gorm:"not null;uniqueIndex"`
	IsUsed          bool            `json:"is_used" gorm:"not null;default:false"`
	Signature       *string         `json:"signature,omitempty" gorm:"type:text"` // set atomically with is_used
	ExpiresAt       time.Time       `json:"expires_at" gorm:"not null"`
	UsedAt          *time.Time      `json:"used_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExecutionStatus for the destination-chain transfer backing a quote.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Execution is the one destination-chain transfer for a committed quote.
// tx_hash is required once status is success.
type Execution struct {
	ID          string          `json:"id" gorm:"primaryKey"` // UUID
	QuoteID     string          `json:"quote_id" gorm:"not null;uniqueIndex"`
	Chain       Chain           `json:"chain" gorm:"not null"`
	Asset       string          `json:"asset" gorm:"not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(38,18);not null"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Status      ExecutionStatus `json:"status" gorm:"not null;default:'pending';index"`
	RetryCount  int             `json:"retry_count" gorm:"not null;default:0"`
	LastError   string          `json:"last_error,omitempty" gorm:"type:text"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Settlement records the funding-side payment backing an execution.
// (funding_chain, funding_tx_hash) is unique, which is what makes webhook
// reprocessing of the same chain transaction a no-op.
type Settlement struct {
	ID            string          `json:"id" gorm:"primaryKey"` // UUID
	// Empty while a risk control defers the quote commit; the commit
	// backfills it once the execution row exists.
	ExecutionID   string          `json:"execution_id" gorm:"index"`
	QuoteID       string          `json:"quote_id" gorm:"not null;index"`
	FundingChain  Chain           `json:"funding_chain" gorm:"not null;uniqueIndex:idx_funding_tx,priority:1"`
	FundingTxHash string          `json:"funding_tx_hash" gorm:"not null;uniqueIndex:idx_funding_tx,priority:2"`
	FromAddress   string          `json:"from_address" gorm:"not null"`
	FundingAmount decimal.Decimal `json:"funding_amount" gorm:"type:numeric(38,18);not null;check:funding_amount > 0"`
	SettledAt     time.Time       `json:"settled_at" gorm:"not null"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
