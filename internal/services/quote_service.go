package services

import (
	"context"
	"errors"
	"time"

	"crosspay/internal/config"
	"crosspay/internal/errs"
	"crosspay/internal/metrics"
	"crosspay/internal/models"
	"crosspay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Commit paths. A quote commits either because a signed approval was
// consumed or because a verified funding payment arrived; the conditional
// status transition decides the winner when both race.
const (
	CommitPathApproval = "approval"
	CommitPathFunding  = "funding"
)

// QuoteService owns the quote lifecycle: pending -> {committed, expired},
// committed -> {executed, failed}. Every transition goes through one
// conditional update, so concurrent callers observe exactly one winner.
type QuoteService struct {
	quotes      repository.QuoteRepository
	approvals   repository.ApprovalRepository
	executions  repository.ExecutionRepository
	settlements repository.SettlementRepository
	risk        *RiskService
	audit       *AuditService
	cfg         *config.Config
}

// NewQuoteService creates a QuoteService.
func NewQuoteService(db *gorm.DB, risk *RiskService, audit *AuditService, cfg *config.Config) *QuoteService {
	return &QuoteService{
		quotes:      repository.NewQuoteRepository(db),
		approvals:   repository.NewApprovalRepository(db),
		executions:  repository.NewExecutionRepository(db),
		settlements: repository.NewSettlementRepository(db),
		risk:        risk,
		audit:       audit,
		cfg:         cfg,
	}
}

// CreateQuoteInput carries the pricing inputs for a new quote. The
// execution cost comes from the caller's pricing step; the service adds
// the fee and derives the funding ceiling.
type CreateQuoteInput struct {
	UserID                string
	FundingChain          models.Chain
	FundingAsset          string
	ExecutionChain        models.Chain
	ExecutionAsset        string
	ExecutionCost         decimal.Decimal
	ExecutionInstructions []byte
}

// CommitResult reports a won commit.
type CommitResult struct {
	QuoteID     string    `json:"quote_id"`
	Status      string    `json:"status"`
	Path        string    `json:"path"`
	CommittedAt time.Time `json:"committed_at"`
}

// CreateQuote prices and persists a pending quote with a fresh nonce and
// an expiry of now + the configured TTL.
func (s *QuoteService) CreateQuote(ctx context.Context, input CreateQuoteInput) (*models.Quote, error) {
	if !models.IsValidChain(input.FundingChain) || !models.IsValidChain(input.ExecutionChain) {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unknown chain in pair (%s, %s)", input.FundingChain, input.ExecutionChain)
	}
	if input.FundingChain == input.ExecutionChain {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "funding and execution chains must differ")
	}
	supported, err := s.quotes.IsPairSupported(ctx, input.FundingChain, input.ExecutionChain)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "chain pair (%s, %s) is not enabled", input.FundingChain, input.ExecutionChain)
	}
	if input.FundingAsset == "" || input.ExecutionAsset == "" {
		return nil, errs.Validation(errs.CodeInvalidAmount, "funding and execution assets are required")
	}
	if input.ExecutionCost.Sign() <= 0 {
		return nil, errs.Validation(errs.CodeInvalidAmount, "execution cost must be positive")
	}

	serviceFee := input.ExecutionCost.Mul(s.cfg.ServiceFeeRate())
	maxFunding := input.ExecutionCost.Add(serviceFee)
	if maxFunding.Sign() <= 0 {
		return nil, errs.Validation(errs.CodeInvalidAmount, "computed funding amount must be positive")
	}

	now := time.Now().UTC()
	quote := &models.Quote{
		ID:                    uuid.New().String(),
		UserID:                input.UserID,
		FundingChain:          input.FundingChain,
		FundingAsset:          input.FundingAsset,
		ExecutionChain:        input.ExecutionChain,
		ExecutionAsset:        input.ExecutionAsset,
		MaxFundingAmount:      maxFunding,
		ExecutionCost:         input.ExecutionCost,
		ServiceFee:            serviceFee,
		ExecutionInstructions: input.ExecutionInstructions,
		Nonce:                 uuid.New().String(),
		Status:                models.QuoteStatusPending,
		ExpiresAt:             now.Add(s.cfg.QuoteTTL()),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.quotes.Create(ctx, quote); err != nil {
		return nil, err
	}

	metrics.QuotesCreated.WithLabelValues(string(quote.FundingChain), string(quote.ExecutionChain)).Inc()
	s.audit.Record(ctx, models.AuditQuoteCreated, quote.ExecutionChain, quote.ID, quote.UserID, map[string]interface{}{
		"funding_chain":      string(quote.FundingChain),
		"execution_chain":    string(quote.ExecutionChain),
		"execution_cost":     quote.ExecutionCost.String(),
		"service_fee":        quote.ServiceFee.String(),
		"max_funding_amount": quote.MaxFundingAmount.String(),
		"expires_at":         quote.ExpiresAt.Format(time.RFC3339),
	})
	return quote, nil
}

// GetQuote loads a quote by id.
func (s *QuoteService) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(errs.CodeQuoteNotFound, "quote %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// ListQuotes returns a page of the user's quotes.
func (s *QuoteService) ListQuotes(ctx context.Context, userID string, page, pageSize int) ([]*models.Quote, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.quotes.FindByUser(ctx, userID, page, pageSize)
}

// CommitQuote commits a pending quote via the signed-approval path. The
// preconditions: the quote is pending and unexpired, a consumed approval
// (or a verified funding settlement) exists, and the risk controller
// admits the execution-side outflow.
func (s *QuoteService) CommitQuote(ctx context.Context, quoteID string) (*CommitResult, error) {
	quote, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	authorized, err := s.approvals.HasUsedForQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	path := CommitPathApproval
	if !authorized {
		funded, err := s.settlements.HasVerifiedForQuote(ctx, quoteID)
		if err != nil {
			return nil, err
		}
		if !funded {
			return nil, errs.Authorization(errs.CodeApprovalRequired, "quote %s has no consumed approval or verified funding payment", quoteID)
		}
		path = CommitPathFunding
	}

	return s.commit(ctx, quote, path)
}

// CommitFunded commits a quote on behalf of the settlement tracker. The
// caller has the verified funding payment in hand, which is the
// authorization for this path.
func (s *QuoteService) CommitFunded(ctx context.Context, quote *models.Quote) (*CommitResult, error) {
	return s.commit(ctx, quote, CommitPathFunding)
}

func (s *QuoteService) commit(ctx context.Context, quote *models.Quote, path string) (*CommitResult, error) {
	if err := checkCommittable(quote, time.Now().UTC()); err != nil {
		if errs.CodeOf(err) == errs.CodeQuoteExpired && quote.Status == models.QuoteStatusPending {
			// Lazy expiry: the sweep has not caught this quote yet.
			if _, terr := s.quotes.TransitionStatus(ctx, quote.ID, models.QuoteStatusPending, models.QuoteStatusExpired, nil); terr != nil {
				logrus.WithError(terr).WithField("quote_id", quote.ID).Error("failed to expire stale quote")
			}
		}
		return nil, err
	}

	if err := s.risk.CheckAndReserve(ctx, quote.ExecutionChain, quote.ExecutionAsset, quote.ExecutionCost); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	won, err := s.quotes.TransitionStatus(ctx, quote.ID, models.QuoteStatusPending, models.QuoteStatusCommitted, map[string]interface{}{
		"committed_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		metrics.QuoteTransitionConflicts.Inc()
		current, rerr := s.quotes.GetByID(ctx, quote.ID)
		if rerr != nil {
			return nil, rerr
		}
		switch current.Status {
		case models.QuoteStatusExpired:
			return nil, errs.Expired(errs.CodeQuoteExpired, "quote %s expired", quote.ID)
		default:
			return nil, errs.StateConflict(errs.CodeAlreadyCommitted, "quote %s was already committed", quote.ID)
		}
	}

	execution := &models.Execution{
		ID:        uuid.New().String(),
		QuoteID:   quote.ID,
		Chain:     quote.ExecutionChain,
		Asset:     quote.ExecutionAsset,
		Amount:    quote.ExecutionCost,
		Status:    models.ExecutionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, err
	}
	// A funding payment may have been recorded before the commit landed;
	// attach it to the execution it was waiting for.
	if err := s.settlements.LinkExecution(ctx, quote.ID, execution.ID); err != nil {
		logrus.WithError(err).WithField("quote_id", quote.ID).Error("failed to link settlements to execution")
	}

	metrics.QuotesCommitted.WithLabelValues(string(quote.ExecutionChain), path).Inc()
	s.audit.Record(ctx, models.AuditQuoteCommitted, quote.ExecutionChain, quote.ID, quote.UserID, map[string]interface{}{
		"path":           path,
		"execution_id":   execution.ID,
		"execution_cost": quote.ExecutionCost.String(),
	})
	logrus.WithFields(logrus.Fields{
		"quote_id": quote.ID,
		"path":     path,
	}).Info("quote committed")

	return &CommitResult{
		QuoteID:     quote.ID,
		Status:      string(models.QuoteStatusCommitted),
		Path:        path,
		CommittedAt: now,
	}, nil
}

// checkCommittable validates the pending-and-unexpired precondition.
func checkCommittable(quote *models.Quote, now time.Time) error {
	switch quote.Status {
	case models.QuoteStatusPending:
		if !now.Before(quote.ExpiresAt) {
			return errs.Expired(errs.CodeQuoteExpired, "quote %s expired at %s", quote.ID, quote.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	case models.QuoteStatusCommitted:
		return errs.StateConflict(errs.CodeAlreadyCommitted, "quote %s was already committed", quote.ID)
	case models.QuoteStatusExpired:
		return errs.Expired(errs.CodeQuoteExpired, "quote %s expired", quote.ID)
	default:
		return errs.StateConflict(errs.CodeInvalidStateTransition, "quote %s is %s", quote.ID, quote.Status)
	}
}

// MarkExecuted moves a committed quote to executed. Returns false without
// error when a concurrent caller already completed the quote; any other
// prior status is an illegal transition.
func (s *QuoteService) MarkExecuted(ctx context.Context, quoteID, txHash string) (bool, error) {
	won, err := s.quotes.TransitionStatus(ctx, quoteID, models.QuoteStatusCommitted, models.QuoteStatusExecuted, nil)
	if err != nil {
		return false, err
	}
	if !won {
		current, rerr := s.GetQuote(ctx, quoteID)
		if rerr != nil {
			return false, rerr
		}
		if current.Status == models.QuoteStatusExecuted {
			metrics.QuoteTransitionConflicts.Inc()
			return false, nil
		}
		return false, errs.StateConflict(errs.CodeInvalidStateTransition, "cannot execute quote %s in status %s", quoteID, current.Status)
	}

	quote, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return true, err
	}
	s.audit.Record(ctx, models.AuditQuoteExecuted, quote.ExecutionChain, quoteID, quote.UserID, map[string]interface{}{
		"tx_hash": txHash,
	})
	return true, nil
}

// MarkFailed moves a committed quote to failed with a reason.
func (s *QuoteService) MarkFailed(ctx context.Context, quoteID, reason string) error {
	won, err := s.quotes.TransitionStatus(ctx, quoteID, models.QuoteStatusCommitted, models.QuoteStatusFailed, map[string]interface{}{
		"failure_reason": reason,
	})
	if err != nil {
		return err
	}
	if !won {
		current, rerr := s.GetQuote(ctx, quoteID)
		if rerr != nil {
			return rerr
		}
		if current.Status == models.QuoteStatusFailed {
			return nil
		}
		return errs.StateConflict(errs.CodeInvalidStateTransition, "cannot fail quote %s in status %s", quoteID, current.Status)
	}

	quote, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, models.AuditQuoteFailed, quote.ExecutionChain, quoteID, quote.UserID, map[string]interface{}{
		"reason": reason,
	})
	return nil
}

// ExpireStaleQuotes sweeps pending quotes past their expiry. Returns the
// number expired.
func (s *QuoteService) ExpireStaleQuotes(ctx context.Context) (int, error) {
	ids, err := s.quotes.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		metrics.QuotesExpired.Inc()
		s.audit.Record(ctx, models.AuditQuoteExpired, "", id, "", nil)
	}
	if len(ids) > 0 {
		logrus.WithField("count", len(ids)).Info("expired stale quotes")
	}
	return len(ids), nil
}
