package services

import (
	"context"
	"testing"
	"time"

	"crosspay/internal/config"
	"crosspay/internal/db"
	"crosspay/internal/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEnv wires the full service graph over an in-memory database.
type testEnv struct {
	db         *gorm.DB
	cfg        *config.Config
	audit      *AuditService
	risk       *RiskService
	quotes     *QuoteService
	approvals  *ApprovalService
	settlement *SettlementService
	users      *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection so every session sees the same in-memory database.
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))

	for _, pair := range [][2]models.Chain{
		{models.ChainEthereum, models.ChainBSC},
		{models.ChainBSC, models.ChainEthereum},
		{models.ChainSolana, models.ChainEthereum},
	} {
		require.NoError(t, gdb.Create(&models.SupportedChainPair{
			FundingChain:   pair[0],
			ExecutionChain: pair[1],
			Enabled:        true,
		}).Error)
	}

	cfg := &config.Config{
		Chains: map[string]config.ChainConfig{
			"ethereum": {
				TreasuryAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
				DailyLimit:      "500",
				Assets:          []string{"USDT"},
				Enabled:         true,
			},
			"bsc": {
				TreasuryAddress: "0x8617E340B3D01FA5F11F306F4090FD50E238070D",
				DailyLimit:      "500",
				Assets:          []string{"USDT"},
				Enabled:         true,
			},
			"solana": {
				TreasuryAddress: "So11111111111111111111111111111111111111112",
				DailyLimit:      "500",
				Assets:          []string{"USDC"},
				Enabled:         true,
			},
		},
		Quotes: config.QuoteConfig{
			TTLMinutes:         10,
			ApprovalTTLMinutes: 5,
			ServiceFeeRate:     "0.02",
			SweepInterval:      60,
		},
		Risk: config.RiskConfig{
			HourlyOutflowFraction: "0.5",
			MaxExecutionRetries:   3,
			BreakerFailureWindow:  2,
		},
	}

	env := &testEnv{db: gdb, cfg: cfg}
	env.audit = NewAuditService(gdb)
	env.risk = NewRiskService(gdb, env.audit, cfg)
	env.quotes = NewQuoteService(gdb, env.risk, env.audit, cfg)
	env.approvals = NewApprovalService(gdb, nil, env.audit, cfg)
	env.settlement = NewSettlementService(gdb, env.quotes, env.risk, env.audit, cfg)
	env.users = NewUserService(gdb)
	return env
}

// fundTreasury gives the risk ledger something to spend from.
func (e *testEnv) fundTreasury(t *testing.T, chain models.Chain, asset string, amount string) {
	t.Helper()
	require.NoError(t, e.risk.RecordDeposit(context.Background(), chain, asset, dec(amount)))
}

func (e *testEnv) newUser(t *testing.T) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.New().String()}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

// newQuote creates a pending ethereum -> bsc quote with the given
// execution cost.
func (e *testEnv) newQuote(t *testing.T, userID, cost string) *models.Quote {
	t.Helper()
	quote, err := e.quotes.CreateQuote(context.Background(), CreateQuoteInput{
		UserID:         userID,
		FundingChain:   models.ChainEthereum,
		FundingAsset:   "USDT",
		ExecutionChain: models.ChainBSC,
		ExecutionAsset: "USDT",
		ExecutionCost:  dec(cost),
	})
	require.NoError(t, err)
	return quote
}

// expireQuote backdates a quote past its expiry window.
func (e *testEnv) expireQuote(t *testing.T, quoteID string) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Quote{}).
		Where("id = ?", quoteID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// newEVMWallet returns a throwaway secp256k1 address and a personal-sign
// closure over its key.
func newEVMWallet(t *testing.T) (address string, sign func(message string) string) {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	address = gethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	sign = func(message string) string {
		sig, err := gethcrypto.Sign(accounts.TextHash([]byte(message)), key)
		require.NoError(t, err)
		sig[64] += 27
		return hexutil.Encode(sig)
	}
	return address, sign
}
