package services

import (
	"context"
	"fmt"
	"testing"

	"crosspay/internal/errs"
	"crosspay/internal/models"
	"crosspay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitQuoteViaApproval drives a fresh quote through the full approval
// path so settlement tests start from a committed quote.
func commitQuoteViaApproval(t *testing.T, env *testEnv, userID, cost string) *models.Quote {
	t.Helper()
	ctx := context.Background()
	quote := env.newQuote(t, userID, cost)

	address, sign := newEVMWallet(t)
	created, err := env.approvals.CreateApproval(ctx, CreateApprovalInput{
		QuoteID:       quote.ID,
		UserID:        userID,
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
	return quote
}

func fundingPayment(quote *models.Quote, txHash string) FundingPaymentInput {
	return FundingPaymentInput{
		Chain:       quote.FundingChain,
		QuoteID:     quote.ID,
		FromAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		Amount:      quote.MaxFundingAmount,
		TxHash:      txHash,
	}
}

func TestFundingPaymentCommitsPendingQuote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	result, err := env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc001"))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.True(t, result.Committed)
	assert.Equal(t, string(models.QuoteStatusCommitted), result.QuoteStatus)

	stored, err := env.quotes.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusCommitted, stored.Status)
	require.NotNil(t, stored.CommittedAt)

	// The verified inflow credits the funding chain's treasury.
	status, err := env.risk.ChainStatus(ctx, models.ChainEthereum, "USDT")
	require.NoError(t, err)
	assert.True(t, status.TreasuryBalance.Equal(quote.MaxFundingAmount), "treasury %s", status.TreasuryBalance)
}

func TestFundingPaymentReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	first, err := env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc002"))
	require.NoError(t, err)

	second, err := env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc002"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Committed)
	assert.Equal(t, first.SettlementID, second.SettlementID)

	status, err := env.settlement.GetSettlementStatus(ctx, quote.ID)
	require.NoError(t, err)
	assert.Len(t, status.Settlements, 1)

	// The replay must not credit the treasury twice.
	risk, err := env.risk.ChainStatus(ctx, models.ChainEthereum, "USDT")
	require.NoError(t, err)
	assert.True(t, risk.TreasuryBalance.Equal(quote.MaxFundingAmount), "treasury %s", risk.TreasuryBalance)
}

func TestFundingPaymentAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	input := fundingPayment(quote, "0xabc003")
	input.Amount = dec("101") // quoted funding is 102

	_, err := env.settlement.RecordFundingPayment(ctx, input)
	require.Error(t, err)
	assert.Equal(t, errs.CodeAmountMismatch, errs.CodeOf(err))

	stored, err := env.quotes.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusPending, stored.Status)
}

func TestFundingPaymentOnCommittedQuoteOnlyRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := commitQuoteViaApproval(t, env, user.ID, "100")

	result, err := env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc004"))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Committed)
	assert.Equal(t, string(models.QuoteStatusCommitted), result.QuoteStatus)
}

func TestFundingPaymentRecordedWhenRiskDefersCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	// Execution-side breaker is open, so the funding-path commit is
	// denied. The on-chain transfer still happened and must be recorded.
	_, err := env.risk.TripBreaker(ctx, models.ChainBSC, "maintenance", "ops")
	require.NoError(t, err)

	result, err := env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc020"))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Committed)
	assert.Equal(t, string(models.QuoteStatusPending), result.QuoteStatus)

	status, err := env.settlement.GetSettlementStatus(ctx, quote.ID)
	require.NoError(t, err)
	require.Len(t, status.Settlements, 1)
	require.NotNil(t, status.Settlements[0].VerifiedAt)
	assert.Empty(t, status.Settlements[0].ExecutionID, "no execution exists while the commit is deferred")
	assert.Nil(t, status.Execution)

	// The inflow still credits the funding treasury.
	risk, err := env.risk.ChainStatus(ctx, models.ChainEthereum, "USDT")
	require.NoError(t, err)
	assert.True(t, risk.TreasuryBalance.Equal(quote.MaxFundingAmount), "treasury %s", risk.TreasuryBalance)

	// Once the control clears, the verified payment authorizes the commit
	// and the settlement is attached to the new execution.
	_, err = env.risk.ResetBreaker(ctx, models.ChainBSC, "ops")
	require.NoError(t, err)
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")

	commit, err := env.quotes.CommitQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, CommitPathFunding, commit.Path)

	status, err = env.settlement.GetSettlementStatus(ctx, quote.ID)
	require.NoError(t, err)
	require.NotNil(t, status.Execution)
	require.Len(t, status.Settlements, 1)
	assert.Equal(t, status.Execution.ID, status.Settlements[0].ExecutionID)
}

func TestFundingPaymentRejectedForTerminalQuote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")
	env.expireQuote(t, quote.ID)
	_, err := env.quotes.ExpireStaleQuotes(ctx)
	require.NoError(t, err)

	_, err = env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc005"))
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidStateTransition, errs.CodeOf(err))
}

func TestFundingPaymentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	t.Run("unknown chain", func(t *testing.T) {
		input := fundingPayment(quote, "0xabc006")
		input.Chain = "tron"
		_, err := env.settlement.RecordFundingPayment(ctx, input)
		assert.Equal(t, errs.CodeUnsupportedChainPair, errs.CodeOf(err))
	})

	t.Run("wrong funding chain", func(t *testing.T) {
		input := fundingPayment(quote, "0xabc007")
		input.Chain = models.ChainBSC // quote funds on ethereum
		_, err := env.settlement.RecordFundingPayment(ctx, input)
		assert.Equal(t, errs.CodeUnsupportedChainPair, errs.CodeOf(err))
	})

	t.Run("missing tx hash", func(t *testing.T) {
		input := fundingPayment(quote, "")
		_, err := env.settlement.RecordFundingPayment(ctx, input)
		require.Error(t, err)
	})
}

func TestExecutionSuccessSettlesQuoteOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := commitQuoteViaApproval(t, env, user.ID, "100")

	outcome, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
		Chain:   models.ChainBSC,
		QuoteID: quote.ID,
		TxHash:  "0xexec001",
		Success: true,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Terminal)
	assert.Equal(t, string(models.QuoteStatusExecuted), outcome.QuoteStatus)

	stored, err := env.quotes.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusExecuted, stored.Status)

	// The winner charged the outflow exactly once.
	risk, err := env.risk.ChainStatus(ctx, models.ChainBSC, "USDT")
	require.NoError(t, err)
	assert.True(t, risk.DailySpent.Equal(dec("100")), "spent %s", risk.DailySpent)
	assert.True(t, risk.TreasuryBalance.Equal(dec("900")), "treasury %s", risk.TreasuryBalance)

	// Redelivery of the same result is a no-op.
	redelivered, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
		QuoteID: quote.ID,
		TxHash:  "0xexec001",
		Success: true,
	})
	require.NoError(t, err)
	assert.True(t, redelivered.Terminal)

	risk, err = env.risk.ChainStatus(ctx, models.ChainBSC, "USDT")
	require.NoError(t, err)
	assert.True(t, risk.DailySpent.Equal(dec("100")), "spent %s after redelivery", risk.DailySpent)
}

func TestExecutionFailureRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := commitQuoteViaApproval(t, env, user.ID, "100")

	// Retry cap is 3: two retryable failures, then the terminal one.
	for attempt := 1; attempt <= 2; attempt++ {
		outcome, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
			QuoteID: quote.ID,
			Success: false,
			Reason:  fmt.Sprintf("rpc timeout %d", attempt),
		})
		require.NoError(t, err)
		assert.True(t, outcome.WillRetry, "attempt %d", attempt)
		assert.False(t, outcome.Terminal, "attempt %d", attempt)
	}

	outcome, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
		QuoteID: quote.ID,
		Success: false,
		Reason:  "rpc timeout 3",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Terminal)
	assert.False(t, outcome.WillRetry)
	assert.Equal(t, string(models.QuoteStatusFailed), outcome.QuoteStatus)

	stored, err := env.quotes.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteStatusFailed, stored.Status)
	assert.Equal(t, "rpc timeout 3", stored.FailureReason)

	// Nothing was spent for a failed execution.
	risk, err := env.risk.ChainStatus(ctx, models.ChainBSC, "USDT")
	require.NoError(t, err)
	assert.True(t, risk.DailySpent.IsZero(), "spent %s", risk.DailySpent)
}

func TestExecutionFailureRetryCountCappedUnderRedelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := commitQuoteViaApproval(t, env, user.ID, "100")

	// Deliver more failures than the cap of 3. The conditional update
	// decides terminality from the incremented count, so the extra
	// deliveries are duplicates and cannot grow the count further.
	for attempt := 1; attempt <= 5; attempt++ {
		outcome, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
			QuoteID: quote.ID,
			Success: false,
			Reason:  "execution reverted",
		})
		require.NoError(t, err)
		if attempt >= 3 {
			assert.True(t, outcome.Terminal, "attempt %d", attempt)
			assert.False(t, outcome.WillRetry, "attempt %d", attempt)
		}
	}

	execution, err := repository.NewExecutionRepository(env.db).GetByQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, env.cfg.Risk.MaxExecutionRetries, execution.RetryCount)
}

func TestConsecutiveTerminalFailuresTripBreaker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "10000")
	user := env.newUser(t)

	failTerminally := func(quoteID string) {
		for attempt := 0; attempt < env.cfg.Risk.MaxExecutionRetries; attempt++ {
			_, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
				QuoteID: quoteID,
				Success: false,
				Reason:  "execution reverted",
			})
			require.NoError(t, err)
		}
	}

	// Breaker window is 2 consecutive terminal failures.
	first := commitQuoteViaApproval(t, env, user.ID, "100")
	failTerminally(first.ID)

	status, err := env.risk.ChainStatus(ctx, models.ChainBSC, "USDT")
	require.NoError(t, err)
	assert.False(t, status.Tripped, "one terminal failure must not trip the breaker")

	second := commitQuoteViaApproval(t, env, user.ID, "100")
	failTerminally(second.ID)

	status, err = env.risk.ChainStatus(ctx, models.ChainBSC, "USDT")
	require.NoError(t, err)
	assert.True(t, status.Tripped)
	assert.Equal(t, "consecutive execution failures", status.TripReason)

	// New commits on the chain are now denied.
	err = env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("1"))
	assert.Equal(t, errs.CodeCircuitBreakerOpen, errs.CodeOf(err))
}

func TestExecutionResultUnknownQuote(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.settlement.RecordExecutionResult(context.Background(), ExecutionResultInput{
		QuoteID: "00000000-0000-0000-0000-000000000000",
		Success: true,
	})
	assert.Equal(t, errs.CodeQuoteNotFound, errs.CodeOf(err))
}

func TestExecutionResultChainMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := commitQuoteViaApproval(t, env, user.ID, "100")

	_, err := env.settlement.RecordExecutionResult(ctx, ExecutionResultInput{
		Chain:   models.ChainEthereum, // execution runs on bsc
		QuoteID: quote.ID,
		Success: true,
	})
	assert.Equal(t, errs.CodeUnsupportedChainPair, errs.CodeOf(err))
}

func TestGetSettlementStatusAggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	user := env.newUser(t)
	quote := env.newQuote(t, user.ID, "100")

	_, err := env.settlement.RecordFundingPayment(ctx, fundingPayment(quote, "0xabc010"))
	require.NoError(t, err)

	status, err := env.settlement.GetSettlementStatus(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.ID, status.Quote.ID)
	require.NotNil(t, status.Execution)
	assert.Equal(t, models.ExecutionStatusPending, status.Execution.Status)
	require.Len(t, status.Settlements, 1)
	assert.Equal(t, "0xabc010", status.Settlements[0].FundingTxHash)
}
