package services

import (
	"context"
	"testing"
	"time"

	"crosspay/internal/errs"
	"crosspay/internal/models"
	"crosspay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateQuotePricing(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	quote := env.newQuote(t, user.ID, "100")

	// 2% fee on a cost of 100.
	assert.True(t, quote.ServiceFee.Equal(dec("2")), "fee = %s", quote.ServiceFee)
	assert.True(t, quote.MaxFundingAmount.Equal(dec("102")), "max funding = %s", quote.MaxFundingAmount)
	assert.Equal(t, models.QuoteStatusPending, quote.Status)
	assert.NotEmpty(t, quote.Nonce)
	assert.True(t, quote.ExpiresAt.After(time.Now().UTC()))
}

func TestCreateQuoteRejectsBadPairs(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		funding models.Chain
		exec    models.Chain
	}{
		{"equal chains", models.ChainEthereum, models.ChainEthereum},
		{"unknown chain", models.Chain("tron"), models.ChainBSC},
		{"pair not enabled", models.ChainEthereum, models.ChainSolana},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.quotes.CreateQuote(ctx, CreateQuoteInput{
				UserID:         user.ID,
				FundingChain:   tc.funding,
				FundingAsset:   "USDT",
				ExecutionChain: tc.exec,
				ExecutionAsset: "USDT",
				ExecutionCost:  dec("10"),
			})
			require.Error(t, err)
			assert.Equal(t, errs.CodeUnsupportedChainPair, errs.CodeOf(err))
		})
	}
}

func TestCreateQuoteRejectsNonPositiveCost(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	for _, cost := range []string{"0", "-5"} {
		_, err := env.quotes.CreateQuote(context.Background(), CreateQuoteInput{
			UserID:         user.ID,
			FundingChain:   models.ChainEthereum,
			FundingAsset:   "USDT",
			ExecutionChain: models.ChainBSC,
			ExecutionAsset: "USDT",
			ExecutionCost:  dec(cost),
		})
		require.Error(t, err)
		assert.Equal(t, errs.CodeInvalidAmount, errs.CodeOf(err))
	}
}

func TestCommitRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	_, err := env.quotes.CommitQuote(context.Background(), quote.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeApprovalRequired, errs.CodeOf(err))
}

func TestCommitViaApprovalPath(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")
	ctx := context.Background()

	address, sign := newEVMWallet(t)
	created, err := env.approvals.CreateApproval(ctx, CreateApprovalInput{
		QuoteID:       quote.ID,
		UserID:        user.ID,
		WalletAddress: address,
		GasAmount:     dec("0.5"),
	})
	require.NoError(t, err)

	approval := created.Approval
	assert.True(t, approval.ApprovedAmount.Equal(dec("102")))
	assert.True(t, approval.FeeAmount.Equal(dec("2")))
	assert.True(t, approval.GasAmount.Equal(dec("0.5")))
	assert.True(t, approval.ExecutionAmount.Equal(dec("99.5")), "execution amount = %s", approval.ExecutionAmount)

	_, err = env.approvals.SubmitApproval(ctx, SubmitApprovalInput{
		ApprovalID:    approval.ID,
		WalletAddress: address,
		Signature:     sign(created.MessageToSign),
		Message:       created.MessageToSign,
		Nonce:         approval.Nonce,
	})
	require.NoError(t, err)

	result, err := env.quotes.CommitQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, CommitPathApproval, result.Path)

	stored, err := env.quotes.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusCommitted, stored.Status)
	require.NotNil(t, stored.CommittedAt)

	// The commit created exactly one pending execution.
	execution, err := repository.NewExecutionRepository(env.db).GetByQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.True(t, execution.Amount.Equal(quote.ExecutionCost))

	// Second commit loses the conditional update.
	_, err = env.quotes.CommitQuote(ctx, quote.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeAlreadyCommitted, errs.CodeOf(err))
}

func TestCommitExpiredQuote(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")
	env.expireQuote(t, quote.ID)

	_, err := env.quotes.CommitQuote(context.Background(), quote.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeApprovalRequired, errs.CodeOf(err))

	// With authorization in place the expiry check decides.
	address, sign := newEVMWallet(t)
	fresh := env.newQuote(t, user.ID, "50")
	created, err := env.approvals.CreateApproval(context.Background(), CreateApprovalInput{
		QuoteID:       fresh.ID,
		UserID:        user.ID,
		WalletAddress: address,
	})
	require.NoError(t, err)
	_, err = env.approvals.SubmitApproval(context.Background(), SubmitApprovalInput{
		ApprovalID:    created.Approval.ID,
		WalletAddress: address,
		Signature:     sign(created.MessageToSign),
		Message:       created.MessageToSign,
		Nonce:         created.Approval.Nonce,
	})
	require.NoError(t, err)

	env.expireQuote(t, fresh.ID)
	_, err = env.quotes.CommitQuote(context.Background(), fresh.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeQuoteExpired, errs.CodeOf(err))

	// Lazy expiry flipped the row.
	stored, err := env.quotes.GetQuote(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusExpired, stored.Status)
}

func TestConditionalTransitionSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "10")
	ctx := context.Background()

	repo := repository.NewQuoteRepository(env.db)
	won, err := repo.TransitionStatus(ctx, quote.ID, models.QuoteStatusPending, models.QuoteStatusCommitted, nil)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.TransitionStatus(ctx, quote.ID, models.QuoteStatusPending, models.QuoteStatusCommitted, nil)
	require.NoError(t, err)
	assert.False(t, won, "second caller must lose the conditional update")

	won, err = repo.TransitionStatus(ctx, quote.ID, models.QuoteStatusPending, models.QuoteStatusExpired, nil)
	require.NoError(t, err)
	assert.False(t, won, "expiry cannot steal a committed quote")
}

func TestIllegalTransitions(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "10")
	ctx := context.Background()

	// Pending quotes cannot jump to terminal execution states.
	_, err := env.quotes.MarkExecuted(ctx, quote.ID, "0xabc")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidStateTransition, errs.CodeOf(err))

	err = env.quotes.MarkFailed(ctx, quote.ID, "boom")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidStateTransition, errs.CodeOf(err))
}

func TestExpireStaleQuotes(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	ctx := context.Background()

	stale := env.newQuote(t, user.ID, "10")
	env.expireQuote(t, stale.ID)
	live := env.newQuote(t, user.ID, "10")

	count, err := env.quotes.ExpireStaleQuotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	storedStale, err := env.quotes.GetQuote(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusExpired, storedStale.Status)

	storedLive, err := env.quotes.GetQuote(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusPending, storedLive.Status)

	// Terminal state is sticky; the sweep finds nothing new.
	count, err = env.quotes.ExpireStaleQuotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExpireStaleSkipsQuoteCommittedMidSweep(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	ctx := context.Background()

	stale := env.newQuote(t, user.ID, "10")
	env.expireQuote(t, stale.ID)
	racing := env.newQuote(t, user.ID, "10")
	env.expireQuote(t, racing.ID)

	// Commit the racing quote after the sweep's candidate scan runs but
	// before its guarded update, via a one-shot query callback.
	fired := false
	require.NoError(t, env.db.Callback().Query().After("gorm:query").Register("commit_mid_sweep", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "quotes" {
			return
		}
		fired = true
		tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE quotes SET status = ? WHERE id = ?", models.QuoteStatusCommitted, racing.ID)
	}))
	defer func() {
		require.NoError(t, env.db.Callback().Query().Remove("commit_mid_sweep"))
	}()

	repo := repository.NewQuoteRepository(env.db)
	expired, err := repo.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, fired)

	// Only the quote that actually transitioned is reported; the one that
	// committed under the sweep is not.
	assert.Equal(t, []string{stale.ID}, expired)

	storedRacing, err := env.quotes.GetQuote(ctx, racing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusCommitted, storedRacing.Status)
}

func TestQuoteAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")
	ctx := context.Background()

	address, sign := newEVMWallet(t)
	created, err := env.approvals.CreateApproval(ctx, CreateApprovalInput{
		QuoteID:       quote.ID,
		UserID:        user.ID,
		WalletAddress: address,
	})
	require.NoError(t, err)
	_, err = env.approvals.SubmitApproval(ctx, SubmitApprovalInput{
		ApprovalID:    created.Approval.ID,
		WalletAddress: address,
		Signature:     sign(created.MessageToSign),
		Message:       created.MessageToSign,
		Nonce:         created.Approval.Nonce,
	})
	require.NoError(t, err)
	_, err = env.quotes.CommitQuote(ctx, quote.ID)
	require.NoError(t, err)

	entries, err := env.audit.History(ctx, quote.ID)
	require.NoError(t, err)

	var types []string
	for _, entry := range entries {
		types = append(types, entry.EventType)
	}
	assert.Contains(t, types, models.AuditQuoteCreated)
	assert.Contains(t, types, models.AuditQuoteCommitted)
}
