package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies one of the supported networks. The set is closed:
// adding a chain means adding a signature scheme variant as well.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainBSC      Chain = "bsc"
	ChainSolana   Chain = "solana"
)

// AllChains lists every supported chain in a stable order.
func AllChains() []Chain {
	return []Chain{ChainEthereum, ChainBSC, ChainSolana}
}

// IsValidChain reports whether c is a member of the closed chain set.
func IsValidChain(c Chain) bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainSolana:
		return true
	}
	return false
}

// IsEVM reports whether the chain uses secp256k1 personal-sign signatures.
func (c Chain) IsEVM() bool {
	return c == ChainEthereum || c == ChainBSC
}

// SupportedChainPair enables an ordered (funding, execution) pair.
// Seeded at bootstrap from configuration; quotes are validated against it
// both at creation and on any update.
type SupportedChainPair struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	FundingChain   Chain     `json:"funding_chain" gorm:"not null;uniqueIndex:idx_chain_pair,priority:1"`
	ExecutionChain Chain     `json:"execution_chain" gorm:"not null;uniqueIndex:idx_chain_pair,priority:2"`
	Enabled        bool      `json:"enabled" gorm:"not null;default:true"`
	CreatedAt      time.Time `json:"created_at"`
}

// User owns quotes and approvals. Wallet addresses hang off the user,
// one per chain at most, unique across all users.
type User struct {
	ID        string          `json:"id" gorm:"primaryKey"` // UUID
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Wallets   []WalletAddress `json:"wallets" gorm:"foreignKey:UserID"`
}

// WalletAddress is a chain-specific address bound to a user.
type WalletAddress struct {
	ID        string    `json:"id" gorm:"primaryKey"` // UUID
	UserID    string    `json:"user_id" gorm:"not null;index"`
	Chain     Chain     `json:"chain" gorm:"not null;uniqueIndex:idx_chain_address,priority:1"`
	Address   string    `json:"address" gorm:"not null;uniqueIndex:idx_chain_address,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance tracks a user's per-chain, per-asset holdings.
// locked_amount <= amount always holds.
type Balance struct {
	ID           string          `json:"id" gorm:"primaryKey"` // UUID
	UserID       string          `json:"user_id" gorm:"not null;uniqueIndex:idx_user_chain_asset,priority:1"`
	Chain        Chain           `json:"chain" gorm:"not null;uniqueIndex:idx_user_chain_asset,priority:2"`
	Asset        string          `json:"asset" gorm:"not null;uniqueIndex:idx_user_chain_asset,priority:3"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(38,18);not null;default:0;check:amount >= 0"`
	LockedAmount decimal.Decimal `json:"locked_amount" gorm:"type:numeric(38,18);not null;default:0;check:locked_amount >= 0 AND locked_amount <= amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
