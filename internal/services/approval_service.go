package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspay/internal/clients"
	"crosspay/internal/config"
	"crosspay/internal/errs"
	"crosspay/internal/metrics"
	"crosspay/internal/models"
	"crosspay/internal/repository"
	"crosspay/internal/signing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ApprovalService issues spending approvals and verifies wallet
// signatures over them. Submission checks run in a fixed order and
// short-circuit on the first failure; the is_used flip is the last step
// and the only one that writes.
type ApprovalService struct {
	approvals repository.ApprovalRepository
	quotes    repository.QuoteRepository
	balances  clients.BalanceChecker // nil disables the balance policy
	audit     *AuditService
	cfg       *config.Config
}

// NewApprovalService creates an ApprovalService. balances may be nil when
// the on-chain balance policy is disabled.
func NewApprovalService(db *gorm.DB, balances clients.BalanceChecker, audit *AuditService, cfg *config.Config) *ApprovalService {
	return &ApprovalService{
		approvals: repository.NewApprovalRepository(db),
		quotes:    repository.NewQuoteRepository(db),
		balances:  balances,
		audit:     audit,
		cfg:       cfg,
	}
}

// CreateApprovalInput identifies the quote and wallet the approval binds.
// GasAmount is the wallet's reserve for funding-side fees; it is carved
// out of the approved amount along with the service fee.
type CreateApprovalInput struct {
	QuoteID       string
	UserID        string
	WalletAddress string
	GasAmount     decimal.Decimal
}

// CreateApprovalResult returns the approval together with the exact
// message the wallet must sign.
type CreateApprovalResult struct {
	Approval      *models.SpendingApproval `json:"approval"`
	MessageToSign string                   `json:"message_to_sign"`
}

// AuthorizationResult reports a consumed approval.
type AuthorizationResult struct {
	ApprovalID string    `json:"approval_id"`
	QuoteID    string    `json:"quote_id"`
	UsedAt     time.Time `json:"used_at"`
}

// BuildApprovalMessage renders the canonical human-readable message for
// an approval. Submission reconstructs this from stored fields and
// requires byte equality with what the wallet signed, so the format is
// part of the protocol: do not change it without versioning.
func BuildApprovalMessage(a *models.SpendingApproval) string {
	return fmt.Sprintf(
		"CrossPay Spending Approval\n"+
			"Amount: %s %s\n"+
			"To: %s\n"+
			"Chain: %s\n"+
			"Quote: %s\n"+
			"Nonce: %s\n"+
			"Expires: %s",
		a.ApprovedAmount.String(), a.Asset,
		a.TreasuryAddress,
		a.Chain,
		a.QuoteID,
		a.Nonce,
		a.ExpiresAt.UTC().Format(time.RFC3339),
	)
}

// CreateApproval issues a single-use approval for a pending quote. The
// approved amount is the quote's funding ceiling; execution amount is
// what remains after the service fee and the gas reserve.
func (s *ApprovalService) CreateApproval(ctx context.Context, input CreateApprovalInput) (*CreateApprovalResult, error) {
	quote, err := s.quotes.GetByID(ctx, input.QuoteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(errs.CodeQuoteNotFound, "quote %s not found", input.QuoteID)
	}
	if err != nil {
		return nil, err
	}
	if quote.UserID != input.UserID {
		return nil, errs.NotFound(errs.CodeQuoteNotFound, "quote %s not found", input.QuoteID)
	}

	now := time.Now().UTC()
	switch {
	case quote.Status == models.QuoteStatusExpired, quote.Status == models.QuoteStatusPending && !now.Before(quote.ExpiresAt):
		return nil, errs.Expired(errs.CodeQuoteExpired, "quote %s expired", quote.ID)
	case quote.Status != models.QuoteStatusPending:
		return nil, errs.StateConflict(errs.CodeQuoteNotPending, "quote %s is %s", quote.ID, quote.Status)
	}

	verifier, err := signing.ForChain(quote.FundingChain)
	if err != nil {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unsupported funding chain %q", quote.FundingChain).Wrap(err)
	}
	if !verifier.ValidAddress(input.WalletAddress) {
		return nil, errs.Validation(errs.CodeSignatureInvalid, "malformed wallet address for chain %s", quote.FundingChain)
	}
	if input.GasAmount.Sign() < 0 {
		return nil, errs.Validation(errs.CodeInvalidAmount, "gas amount must not be negative")
	}

	treasury := s.cfg.TreasuryAddress(string(quote.FundingChain))
	if treasury == "" {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "no treasury address configured for chain %s", quote.FundingChain)
	}

	approved := quote.MaxFundingAmount
	executionAmount := approved.Sub(quote.ServiceFee).Sub(input.GasAmount)
	if executionAmount.Sign() <= 0 {
		return nil, errs.Validation(errs.CodeInvalidAmount, "fee and gas leave no execution amount")
	}

	expiresAt := now.Add(s.cfg.ApprovalTTL())
	if expiresAt.After(quote.ExpiresAt) {
		expiresAt = quote.ExpiresAt
	}

	approval := &models.SpendingApproval{
		ID:              uuid.New().String(),
		QuoteID:         quote.ID,
		UserID:          input.UserID,
		Chain:           quote.FundingChain,
		Asset:           quote.FundingAsset,
		ApprovedAmount:  approved,
		FeeAmount:       quote.ServiceFee,
		GasAmount:       input.GasAmount,
		ExecutionAmount: executionAmount,
		WalletAddress:   input.WalletAddress,
		TreasuryAddress: treasury,
		Nonce:           uuid.New().String(),
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.approvals.Create(ctx, approval); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.AuditApprovalCreated, approval.Chain, approval.ID, approval.UserID, map[string]interface{}{
		"quote_id":         approval.QuoteID,
		"approved_amount":  approval.ApprovedAmount.String(),
		"fee_amount":       approval.FeeAmount.String(),
		"gas_amount":       approval.GasAmount.String(),
		"execution_amount": approval.ExecutionAmount.String(),
		"expires_at":       approval.ExpiresAt.Format(time.RFC3339),
	})

	return &CreateApprovalResult{
		Approval:      approval,
		MessageToSign: BuildApprovalMessage(approval),
	}, nil
}

// SubmitApprovalInput carries the wallet's signed response.
type SubmitApprovalInput struct {
	ApprovalID    string
	WalletAddress string
	Signature     string
	Message       string
	Nonce         string
}

// SubmitApproval verifies the wallet's signature and consumes the
// approval. Checks run in order: existence, nonce, single-use, expiry,
// message integrity, signature, balance policy, and finally the atomic
// consume. Each failure short-circuits with its own code.
func (s *ApprovalService) SubmitApproval(ctx context.Context, input SubmitApprovalInput) (*AuthorizationResult, error) {
	approval, err := s.approvals.GetByID(ctx, input.ApprovalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.reject(ctx, nil, errs.NotFound(errs.CodeApprovalNotFound, "approval %s not found", input.ApprovalID))
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(approval.Nonce), []byte(input.Nonce)) != 1 {
		return nil, s.reject(ctx, approval, errs.Authorization(errs.CodeNonceMismatch, "nonce does not match approval %s", approval.ID))
	}
	if approval.IsUsed {
		return nil, s.reject(ctx, approval, errs.StateConflict(errs.CodeAlreadyUsed, "approval %s was already used", approval.ID))
	}
	now := time.Now().UTC()
	if !now.Before(approval.ExpiresAt) {
		return nil, s.reject(ctx, approval, errs.Expired(errs.CodeApprovalExpired, "approval %s expired at %s", approval.ID, approval.ExpiresAt.Format(time.RFC3339)))
	}
	if !sameAddress(approval.Chain, approval.WalletAddress, input.WalletAddress) {
		return nil, s.reject(ctx, approval, errs.Authorization(errs.CodeSignatureInvalid, "wallet does not match approval %s", approval.ID))
	}

	canonical := BuildApprovalMessage(approval)
	if input.Message != canonical {
		return nil, s.reject(ctx, approval, errs.Authorization(errs.CodeMessageMismatch, "signed message does not match approval %s", approval.ID))
	}

	verifier, err := signing.ForChain(approval.Chain)
	if err != nil {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unsupported chain %q", approval.Chain).Wrap(err)
	}
	valid, err := verifier.Verify([]byte(canonical), input.Signature, approval.WalletAddress)
	if err != nil {
		return nil, s.reject(ctx, approval, errs.Authorization(errs.CodeSignatureInvalid, "malformed signature for approval %s", approval.ID).Wrap(err))
	}
	if !valid {
		return nil, s.reject(ctx, approval, errs.Authorization(errs.CodeSignatureInvalid, "signature was not produced by %s", approval.WalletAddress))
	}

	if s.cfg.Risk.CheckWalletBalance && s.balances != nil {
		balance, err := s.balances.TokenBalance(ctx, approval.Chain, approval.Asset, approval.WalletAddress)
		switch {
		case err != nil:
			// Policy check only; an RPC outage must not block authorization.
			logrus.WithError(err).WithFields(logrus.Fields{
				"chain":  approval.Chain,
				"wallet": approval.WalletAddress,
			}).Warn("balance policy check skipped")
		case balance.LessThan(approval.ApprovedAmount):
			return nil, s.reject(ctx, approval, errs.Authorization(errs.CodeInsufficientBalance, "wallet balance below approved amount").
				WithDetail("balance", balance.String()).
				WithDetail("approved_amount", approval.ApprovedAmount.String()))
		}
	}

	won, err := s.approvals.Consume(ctx, approval.ID, input.Signature, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.reject(ctx, approval, errs.StateConflict(errs.CodeAlreadyUsed, "approval %s was already used", approval.ID))
	}

	metrics.ApprovalSubmissions.WithLabelValues(string(approval.Chain), "authorized").Inc()
	s.audit.Record(ctx, models.AuditApprovalAuthorized, approval.Chain, approval.ID, approval.UserID, map[string]interface{}{
		"quote_id": approval.QuoteID,
		"wallet":   approval.WalletAddress,
	})

	return &AuthorizationResult{
		ApprovalID: approval.ID,
		QuoteID:    approval.QuoteID,
		UsedAt:     now,
	}, nil
}

// reject records the rejection and passes the error through.
func (s *ApprovalService) reject(ctx context.Context, approval *models.SpendingApproval, err *errs.Error) error {
	chain := models.Chain("")
	entityID, userID := "", ""
	if approval != nil {
		chain = approval.Chain
		entityID = approval.ID
		userID = approval.UserID
	}
	metrics.ApprovalSubmissions.WithLabelValues(string(chain), "rejected").Inc()
	s.audit.Record(ctx, models.AuditApprovalRejected, chain, entityID, userID, map[string]interface{}{
		"code": err.Code,
	})
	return err
}

// sameAddress compares wallet addresses with the chain's case rules. EVM
// addresses are case-insensitive hex; solana base58 is case-sensitive.
func sameAddress(chain models.Chain, a, b string) bool {
	if chain.IsEVM() {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// GetApproval loads an approval by id.
func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*models.SpendingApproval, error) {
	approval, err := s.approvals.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(errs.CodeApprovalNotFound, "approval %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// ListApprovals returns a page of the user's approvals.
func (s *ApprovalService) ListApprovals(ctx context.Context, userID string, page, pageSize int) ([]*models.SpendingApproval, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.approvals.FindByUser(ctx, userID, page, pageSize)
}
