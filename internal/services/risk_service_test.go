package services

import (
	"context"
	"testing"

	"crosspay/internal/errs"
	"crosspay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// detailDec reads a decimal detail field off a typed risk error.
func detailDec(t *testing.T, err error, key string) string {
	t.Helper()
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	value, ok := typed.Detail[key].(string)
	require.True(t, ok, "detail %q missing", key)
	return value
}

func TestCheckAndReserveOrderOfControls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "10000")

	// A tripped breaker wins over every other control.
	_, err := env.risk.TripBreaker(ctx, models.ChainBSC, "manual halt", "ops")
	require.NoError(t, err)
	err = env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("1"))
	require.Error(t, err)
	assert.Equal(t, errs.CodeCircuitBreakerOpen, errs.CodeOf(err))

	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "manual halt", typed.Detail["reason"])

	reset, err := env.risk.ResetBreaker(ctx, models.ChainBSC, "ops")
	require.NoError(t, err)
	assert.True(t, reset)
	require.NoError(t, env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("1")))
}

func TestCheckAndReserveDailyLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "10000")

	// Limit is 500; charge 480 so only 20 remains.
	require.NoError(t, env.risk.RecordSpend(ctx, models.ChainBSC, "USDT", dec("480"), "quote-1"))

	err := env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("30"))
	require.Error(t, err)
	assert.Equal(t, errs.CodeDailyLimitExceeded, errs.CodeOf(err))

	assert.True(t, dec("20").Equal(dec(detailDec(t, err, "remaining"))))
	assert.True(t, dec("500").Equal(dec(detailDec(t, err, "limit"))))

	// An amount inside the remaining headroom passes.
	require.NoError(t, env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("20")))
}

func TestCheckAndReserveTreasuryFraction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "100")

	// Fraction is 0.5, so a single spend may not exceed 50.
	err := env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("60"))
	require.Error(t, err)
	assert.Equal(t, errs.CodeOutflowThreshold, errs.CodeOf(err))

	assert.True(t, dec("50").Equal(dec(detailDec(t, err, "threshold"))))
	assert.True(t, dec("100").Equal(dec(detailDec(t, err, "treasury_balance"))))

	require.NoError(t, env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("50")))
}

func TestCheckAndReserveRejectsNonPositive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("0"))
	assert.Equal(t, errs.CodeInvalidAmount, errs.CodeOf(err))
	err = env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("-5"))
	assert.Equal(t, errs.CodeInvalidAmount, errs.CodeOf(err))
}

func TestRecordSpendAccumulatesAndDebits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")

	require.NoError(t, env.risk.RecordSpend(ctx, models.ChainBSC, "USDT", dec("120"), "quote-1"))
	require.NoError(t, env.risk.RecordSpend(ctx, models.ChainBSC, "USDT", dec("30"), "quote-2"))

	status, err := env.risk.ChainStatus(ctx, models.ChainBSC, "USDT")
	require.NoError(t, err)
	assert.True(t, status.DailySpent.Equal(dec("150")), "spent %s", status.DailySpent)
	assert.True(t, status.DailyRemaining.Equal(dec("350")), "remaining %s", status.DailyRemaining)
	assert.True(t, status.TreasuryBalance.Equal(dec("850")), "treasury %s", status.TreasuryBalance)
}

func TestBreakerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Reset on a clear chain reports nothing to do.
	reset, err := env.risk.ResetBreaker(ctx, models.ChainEthereum, "ops")
	require.NoError(t, err)
	assert.False(t, reset)

	state, err := env.risk.TripBreaker(ctx, models.ChainEthereum, "suspicious outflow", "ops")
	require.NoError(t, err)
	assert.Equal(t, "suspicious outflow", state.Reason)

	// A second trip keeps the original record.
	again, err := env.risk.TripBreaker(ctx, models.ChainEthereum, "other reason", "ops")
	require.NoError(t, err)
	assert.Equal(t, state.ID, again.ID)
	assert.Equal(t, "suspicious outflow", again.Reason)

	status, err := env.risk.ChainStatus(ctx, models.ChainEthereum, "USDT")
	require.NoError(t, err)
	assert.True(t, status.Tripped)
	assert.Equal(t, "suspicious outflow", status.TripReason)
	require.NotNil(t, status.TrippedAt)

	reset, err = env.risk.ResetBreaker(ctx, models.ChainEthereum, "ops")
	require.NoError(t, err)
	assert.True(t, reset)

	status, err = env.risk.ChainStatus(ctx, models.ChainEthereum, "USDT")
	require.NoError(t, err)
	assert.False(t, status.Tripped)

	// Breakers are per chain.
	env.fundTreasury(t, models.ChainBSC, "USDT", "1000")
	_, err = env.risk.TripBreaker(ctx, models.ChainEthereum, "halt", "ops")
	require.NoError(t, err)
	assert.NoError(t, env.risk.CheckAndReserve(ctx, models.ChainBSC, "USDT", dec("1")))

	_, err = env.risk.TripBreaker(ctx, models.Chain("tron"), "halt", "ops")
	assert.Equal(t, errs.CodeUnsupportedChainPair, errs.CodeOf(err))
}
