package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspay/internal/errs"
	"crosspay/internal/models"
	"crosspay/internal/repository"
	"crosspay/internal/signing"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// loginWindow bounds how stale a signed login message may be.
const loginWindow = 5 * time.Minute

// UserService authenticates wallets and manages user records. A wallet
// proves ownership by signing a timestamped login message; first login
// creates the user.
type UserService struct {
	users repository.UserRepository
}

// NewUserService creates a UserService.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{users: repository.NewUserRepository(db)}
}

// BuildLoginMessage renders the message a wallet signs to log in.
func BuildLoginMessage(chain models.Chain, address string, timestamp int64) string {
	return fmt.Sprintf("CrossPay Login\nChain: %s\nAddress: %s\nTimestamp: %d", chain, address, timestamp)
}

// Authenticate verifies a signed login message and returns the owning
// user, creating one on first login.
func (s *UserService) Authenticate(ctx context.Context, chain models.Chain, address, signature string, timestamp int64) (*models.User, error) {
	if !models.IsValidChain(chain) {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unknown chain %q", chain)
	}

	verifier, err := signing.ForChain(chain)
	if err != nil {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unsupported chain %q", chain).Wrap(err)
	}
	if !verifier.ValidAddress(address) {
		return nil, errs.Validation(errs.CodeSignatureInvalid, "malformed address for chain %s", chain)
	}

	now := time.Now().UTC()
	issued := time.Unix(timestamp, 0).UTC()
	if issued.Before(now.Add(-loginWindow)) || issued.After(now.Add(loginWindow)) {
		return nil, errs.Authorization(errs.CodeSignatureInvalid, "login message timestamp outside the accepted window")
	}

	message := BuildLoginMessage(chain, address, timestamp)
	valid, err := verifier.Verify([]byte(message), signature, address)
	if err != nil {
		return nil, errs.Authorization(errs.CodeSignatureInvalid, "malformed login signature").Wrap(err)
	}
	if !valid {
		return nil, errs.Authorization(errs.CodeSignatureInvalid, "login signature was not produced by %s", address)
	}

	// The wallet signs its own rendering of the address; storage and lookup
	// use the canonical one so casing variants resolve to one user.
	canonical := verifier.Normalize(address)
	user, err := s.users.GetByWallet(ctx, chain, canonical)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.register(ctx, chain, canonical)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) register(ctx context.Context, chain models.Chain, address string) (*models.User, error) {
	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	wallet := &models.WalletAddress{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Chain:     chain,
		Address:   address,
		CreatedAt: now,
	}
	if err := s.users.AddWallet(ctx, wallet); err != nil {
		return nil, err
	}
	user.Wallets = []models.WalletAddress{*wallet}
	return user, nil
}

// GetUser loads a user with wallets.
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(errs.CodeUserNotFound, "user %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
