package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"crosspay/internal/errs"
	"crosspay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRegistersOnFirstLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	address, sign := newEVMWallet(t)
	timestamp := time.Now().Unix()
	message := BuildLoginMessage(models.ChainEthereum, address, timestamp)

	user, err := env.users.Authenticate(ctx, models.ChainEthereum, address, sign(message), timestamp)
	require.NoError(t, err)
	require.Len(t, user.Wallets, 1)
	assert.Equal(t, address, user.Wallets[0].Address)

	// Second login with the same wallet resolves the same user.
	again, err := env.users.Authenticate(ctx, models.ChainEthereum, address, sign(message), timestamp)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestAuthenticateCollapsesEVMAddressCasing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	address, sign := newEVMWallet(t)
	timestamp := time.Now().Unix()

	checksummed := BuildLoginMessage(models.ChainEthereum, address, timestamp)
	user, err := env.users.Authenticate(ctx, models.ChainEthereum, address, sign(checksummed), timestamp)
	require.NoError(t, err)

	// The same key logging in with the lowercase rendering resolves the
	// same user instead of registering a second one.
	lower := strings.ToLower(address)
	lowerMessage := BuildLoginMessage(models.ChainEthereum, lower, timestamp)
	again, err := env.users.Authenticate(ctx, models.ChainEthereum, lower, sign(lowerMessage), timestamp)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	var userCount int64
	require.NoError(t, env.db.Model(&models.User{}).Count(&userCount).Error)
	assert.EqualValues(t, 1, userCount)

	// Stored form is the checksummed one regardless of login casing.
	require.Len(t, again.Wallets, 1)
	assert.Equal(t, address, again.Wallets[0].Address)
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	env := newTestEnv(t)
	address, sign := newEVMWallet(t)
	timestamp := time.Now().Add(-10 * time.Minute).Unix()
	message := BuildLoginMessage(models.ChainEthereum, address, timestamp)

	_, err := env.users.Authenticate(context.Background(), models.ChainEthereum, address, sign(message), timestamp)
	require.Error(t, err)
	assert.Equal(t, errs.CodeSignatureInvalid, errs.CodeOf(err))
}

func TestAuthenticateRejectsForeignSignature(t *testing.T) {
	env := newTestEnv(t)
	address, _ := newEVMWallet(t)
	_, otherSign := newEVMWallet(t)
	timestamp := time.Now().Unix()
	message := BuildLoginMessage(models.ChainEthereum, address, timestamp)

	_, err := env.users.Authenticate(context.Background(), models.ChainEthereum, address, otherSign(message), timestamp)
	require.Error(t, err)
	assert.Equal(t, errs.CodeSignatureInvalid, errs.CodeOf(err))
}

func TestAuthenticateRejectsUnknownChain(t *testing.T) {
	env := newTestEnv(t)
	address, sign := newEVMWallet(t)
	timestamp := time.Now().Unix()
	message := BuildLoginMessage("tron", address, timestamp)

	_, err := env.users.Authenticate(context.Background(), "tron", address, sign(message), timestamp)
	require.Error(t, err)
	assert.Equal(t, errs.CodeUnsupportedChainPair, errs.CodeOf(err))
}

func TestGetUserNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.users.GetUser(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, errs.CodeUserNotFound, errs.CodeOf(err))
}
