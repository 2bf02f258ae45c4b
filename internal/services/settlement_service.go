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

// SettlementService ingests chain observations: funding payments on the
// funding chain and execution results on the execution chain. Both arrive
// over webhooks and the event bus and may be redelivered; every ingestion
// path is idempotent.
type SettlementService struct {
	settlements repository.SettlementRepository
	executions  repository.ExecutionRepository
	quoteSvc    *QuoteService
	risk        *RiskService
	audit       *AuditService
	cfg         *config.Config
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(db *gorm.DB, quoteSvc *QuoteService, risk *RiskService, audit *AuditService, cfg *config.Config) *SettlementService {
	return &SettlementService{
		settlements: repository.NewSettlementRepository(db),
		executions:  repository.NewExecutionRepository(db),
		quoteSvc:    quoteSvc,
		risk:        risk,
		audit:       audit,
		cfg:         cfg,
	}
}

// FundingPaymentInput is one observed funding-chain transfer to the
// treasury.
type FundingPaymentInput struct {
	Chain       models.Chain    `json:"chain"`
	QuoteID     string          `json:"quote_id"`
	FromAddress string          `json:"from_address"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// FundingPaymentResult reports the outcome of recording a payment.
type FundingPaymentResult struct {
	SettlementID string `json:"settlement_id"`
	QuoteID      string `json:"quote_id"`
	QuoteStatus  string `json:"quote_status"`
	Duplicate    bool   `json:"duplicate"`
	Committed    bool   `json:"committed"`
}

// RecordFundingPayment verifies and records a funding payment. The
// (chain, tx_hash) pair keys idempotency: a replay returns the original
// outcome without new writes. A payment for a still-pending quote commits
// it through the funding path; a payment for an already-committed quote
// only records the settlement.
func (s *SettlementService) RecordFundingPayment(ctx context.Context, input FundingPaymentInput) (*FundingPaymentResult, error) {
	if !models.IsValidChain(input.Chain) {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unknown chain %q", input.Chain)
	}
	if input.TxHash == "" {
		return nil, errs.Validation(errs.CodeInvalidAmount, "tx hash is required")
	}

	existing, err := s.settlements.GetByFundingTx(ctx, input.Chain, input.TxHash)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		metrics.FundingPaymentsRecorded.WithLabelValues(string(input.Chain), "duplicate").Inc()
		quote, qerr := s.quoteSvc.GetQuote(ctx, existing.QuoteID)
		if qerr != nil {
			return nil, qerr
		}
		return &FundingPaymentResult{
			SettlementID: existing.ID,
			QuoteID:      existing.QuoteID,
			QuoteStatus:  string(quote.Status),
			Duplicate:    true,
		}, nil
	}

	quote, err := s.quoteSvc.GetQuote(ctx, input.QuoteID)
	if err != nil {
		return nil, err
	}
	if quote.FundingChain != input.Chain {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "payment chain %s does not match quote funding chain %s", input.Chain, quote.FundingChain)
	}
	if !input.Amount.Equal(quote.MaxFundingAmount) {
		metrics.FundingPaymentsRecorded.WithLabelValues(string(input.Chain), "amount_mismatch").Inc()
		s.audit.Record(ctx, models.AuditFundingRecorded, input.Chain, quote.ID, quote.UserID, map[string]interface{}{
			"outcome":  "amount_mismatch",
			"tx_hash":  input.TxHash,
			"received": input.Amount.String(),
			"expected": quote.MaxFundingAmount.String(),
		})
		return nil, errs.Validation(errs.CodeAmountMismatch, "payment amount %s does not match quoted %s", input.Amount, quote.MaxFundingAmount).
			WithDetail("expected", quote.MaxFundingAmount.String()).
			WithDetail("tx_hash", input.TxHash)
	}

	committed := false
	switch quote.Status {
	case models.QuoteStatusPending:
		if _, err := s.quoteSvc.CommitFunded(ctx, quote); err != nil {
			switch {
			case errs.CodeOf(err) == errs.CodeAlreadyCommitted:
				// A concurrent approval-path commit winning the race is fine;
				// the payment still settles the now-committed quote.
			case errs.IsKind(err, errs.KindRiskDenied):
				// The transfer happened on chain whether or not risk lets the
				// quote commit right now. Record the payment; the commit is
				// retried through the verified-funding precondition once the
				// control clears.
				logrus.WithError(err).WithField("quote_id", quote.ID).Warn("funding payment recorded but commit deferred by risk control")
			default:
				return nil, err
			}
		} else {
			committed = true
		}
	case models.QuoteStatusCommitted:
		// Approval path already committed; just record the settlement.
	default:
		metrics.FundingPaymentsRecorded.WithLabelValues(string(input.Chain), "rejected").Inc()
		return nil, errs.StateConflict(errs.CodeInvalidStateTransition, "quote %s is %s and cannot accept funding", quote.ID, quote.Status)
	}

	// No execution exists while the commit is deferred; the commit
	// backfills execution_id on the settlement when it lands.
	executionID := ""
	execution, err := s.executions.GetByQuote(ctx, quote.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if execution != nil {
		executionID = execution.ID
	}

	now := time.Now().UTC()
	settledAt := input.ObservedAt
	if settledAt.IsZero() {
		settledAt = now
	}
	settlement := &models.Settlement{
		ID:            uuid.New().String(),
		ExecutionID:   executionID,
		QuoteID:       quote.ID,
		FundingChain:  input.Chain,
		FundingTxHash: input.TxHash,
		FromAddress:   input.FromAddress,
		FundingAmount: input.Amount,
		SettledAt:     settledAt,
		VerifiedAt:    &now,
		CreatedAt:     now,
	}
	if err := s.settlements.Create(ctx, settlement); err != nil {
		// Unique (chain, tx_hash) lost to a concurrent ingestion of the
		// same transaction; fall back to the stored row.
		stored, gerr := s.settlements.GetByFundingTx(ctx, input.Chain, input.TxHash)
		if gerr != nil {
			return nil, err
		}
		metrics.FundingPaymentsRecorded.WithLabelValues(string(input.Chain), "duplicate").Inc()
		current, qerr := s.quoteSvc.GetQuote(ctx, stored.QuoteID)
		if qerr != nil {
			return nil, qerr
		}
		return &FundingPaymentResult{
			SettlementID: stored.ID,
			QuoteID:      stored.QuoteID,
			QuoteStatus:  string(current.Status),
			Duplicate:    true,
		}, nil
	}

	if err := s.risk.RecordDeposit(ctx, input.Chain, quote.FundingAsset, input.Amount); err != nil {
		logrus.WithError(err).WithField("quote_id", quote.ID).Error("failed to credit treasury for funding payment")
	}

	metrics.FundingPaymentsRecorded.WithLabelValues(string(input.Chain), "recorded").Inc()
	s.audit.Record(ctx, models.AuditFundingRecorded, input.Chain, quote.ID, quote.UserID, map[string]interface{}{
		"outcome":       "recorded",
		"tx_hash":       input.TxHash,
		"from_address":  input.FromAddress,
		"amount":        input.Amount.String(),
		"settlement_id": settlement.ID,
		"committed":     committed,
	})

	current, err := s.quoteSvc.GetQuote(ctx, quote.ID)
	if err != nil {
		return nil, err
	}
	return &FundingPaymentResult{
		SettlementID: settlement.ID,
		QuoteID:      quote.ID,
		QuoteStatus:  string(current.Status),
		Duplicate:    false,
		Committed:    committed,
	}, nil
}

// ExecutionResultInput is one observed execution-chain outcome reported
// by the execution adapter.
type ExecutionResultInput struct {
	Chain   models.Chain    `json:"chain"`
	QuoteID string          `json:"quote_id"`
	TxHash  string          `json:"tx_hash"`
	Success bool            `json:"success"`
	Reason  string          `json:"reason"`
	Amount  decimal.Decimal `json:"amount"`
}

// ExecutionResultOutcome reports how an execution result was applied.
type ExecutionResultOutcome struct {
	QuoteID     string `json:"quote_id"`
	QuoteStatus string `json:"quote_status"`
	Terminal    bool   `json:"terminal"`
	WillRetry   bool   `json:"will_retry"`
}

// RecordExecutionResult applies a success or failure report for a
// committed quote's execution. Success is applied at most once: the
// conditional execution update decides the winner, and only the winner
// charges the spend to the risk ledger. Failures accumulate retries; at
// the retry cap the quote fails and enough consecutive failures trip the
// chain's breaker.
func (s *SettlementService) RecordExecutionResult(ctx context.Context, input ExecutionResultInput) (*ExecutionResultOutcome, error) {
	execution, err := s.executions.GetByQuote(ctx, input.QuoteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(errs.CodeQuoteNotFound, "no execution for quote %s", input.QuoteID)
	}
	if err != nil {
		return nil, err
	}
	if input.Chain != "" && input.Chain != execution.Chain {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "result chain %s does not match execution chain %s", input.Chain, execution.Chain)
	}

	if input.Success {
		return s.applySuccess(ctx, execution, input)
	}
	return s.applyFailure(ctx, execution, input)
}

func (s *SettlementService) applySuccess(ctx context.Context, execution *models.Execution, input ExecutionResultInput) (*ExecutionResultOutcome, error) {
	now := time.Now().UTC()
	won, err := s.executions.MarkSuccess(ctx, execution.ID, input.TxHash, now)
	if err != nil {
		return nil, err
	}
	if !won {
		// Redelivered result for an already-settled execution.
		metrics.ExecutionResults.WithLabelValues(string(execution.Chain), "duplicate").Inc()
		quote, qerr := s.quoteSvc.GetQuote(ctx, execution.QuoteID)
		if qerr != nil {
			return nil, qerr
		}
		return &ExecutionResultOutcome{
			QuoteID:     execution.QuoteID,
			QuoteStatus: string(quote.Status),
			Terminal:    true,
		}, nil
	}

	executed, err := s.quoteSvc.MarkExecuted(ctx, execution.QuoteID, input.TxHash)
	if err != nil {
		return nil, err
	}
	if executed {
		// Exactly-once: only the MarkSuccess winner reaches this spend.
		if err := s.risk.RecordSpend(ctx, execution.Chain, execution.Asset, execution.Amount, execution.QuoteID); err != nil {
			logrus.WithError(err).WithField("quote_id", execution.QuoteID).Error("failed to record execution spend")
		}
	}

	metrics.ExecutionResults.WithLabelValues(string(execution.Chain), "success").Inc()
	s.audit.Record(ctx, models.AuditExecutionRecorded, execution.Chain, execution.QuoteID, "", map[string]interface{}{
		"outcome": "success",
		"tx_hash": input.TxHash,
		"amount":  execution.Amount.String(),
	})
	return &ExecutionResultOutcome{
		QuoteID:     execution.QuoteID,
		QuoteStatus: string(models.QuoteStatusExecuted),
		Terminal:    true,
	}, nil
}

func (s *SettlementService) applyFailure(ctx context.Context, execution *models.Execution, input ExecutionResultInput) (*ExecutionResultOutcome, error) {
	// The conditional update is authoritative: it increments the retry
	// count and decides terminality in one write, so a stale in-memory
	// RetryCount cannot skew the decision.
	updated, won, err := s.executions.RecordFailure(ctx, execution.ID, input.Reason, s.cfg.Risk.MaxExecutionRetries)
	if err != nil {
		return nil, err
	}
	if !won {
		metrics.ExecutionResults.WithLabelValues(string(execution.Chain), "duplicate").Inc()
		quote, err := s.quoteSvc.GetQuote(ctx, execution.QuoteID)
		if err != nil {
			return nil, err
		}
		return &ExecutionResultOutcome{
			QuoteID:     execution.QuoteID,
			QuoteStatus: string(quote.Status),
			Terminal:    true,
		}, nil
	}

	terminal := updated.Status == models.ExecutionStatusFailed

	metrics.ExecutionResults.WithLabelValues(string(execution.Chain), "failed").Inc()
	s.audit.Record(ctx, models.AuditExecutionRecorded, execution.Chain, execution.QuoteID, "", map[string]interface{}{
		"outcome":     "failed",
		"reason":      input.Reason,
		"retry_count": updated.RetryCount,
		"terminal":    terminal,
	})

	if !terminal {
		logrus.WithFields(logrus.Fields{
			"quote_id": execution.QuoteID,
			"retry":    updated.RetryCount,
		}).Warn("execution failed, will retry")
		return &ExecutionResultOutcome{
			QuoteID:     execution.QuoteID,
			QuoteStatus: string(models.QuoteStatusCommitted),
			WillRetry:   true,
		}, nil
	}

	if err := s.quoteSvc.MarkFailed(ctx, execution.QuoteID, input.Reason); err != nil {
		return nil, err
	}

	failures, err := s.executions.ConsecutiveFailures(ctx, execution.Chain)
	if err != nil {
		logrus.WithError(err).WithField("chain", execution.Chain).Error("failed to count consecutive failures")
	} else if failures >= s.cfg.Risk.BreakerFailureWindow {
		if _, err := s.risk.TripBreaker(ctx, execution.Chain, "consecutive execution failures", "system"); err != nil {
			logrus.WithError(err).WithField("chain", execution.Chain).Error("failed to trip circuit breaker")
		}
	}

	return &ExecutionResultOutcome{
		QuoteID:     execution.QuoteID,
		QuoteStatus: string(models.QuoteStatusFailed),
		Terminal:    true,
	}, nil
}

// SettlementStatus aggregates everything known about a quote's
// settlement: the quote, its execution, and the funding payments.
type SettlementStatus struct {
	Quote       *models.Quote        `json:"quote"`
	Execution   *models.Execution    `json:"execution,omitempty"`
	Settlements []*models.Settlement `json:"settlements"`
}

// GetSettlementStatus assembles the settlement read model for a quote.
func (s *SettlementService) GetSettlementStatus(ctx context.Context, quoteID string) (*SettlementStatus, error) {
	quote, err := s.quoteSvc.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	status := &SettlementStatus{Quote: quote}
	execution, err := s.executions.GetByQuote(ctx, quoteID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	status.Execution = execution

	status.Settlements, err = s.settlements.FindByQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return status, nil
}
