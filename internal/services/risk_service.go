package services

import (
	"context"
	"time"

	"crosspay/internal/config"
	"crosspay/internal/errs"
	"crosspay/internal/metrics"
	"crosspay/internal/models"
	"crosspay/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RiskService is the single authority over treasury balances, daily
// spending accumulators, and circuit breakers. No other component reads
// or writes these tables.
type RiskService struct {
	repo  repository.RiskRepository
	audit *AuditService
	cfg   *config.Config
}

// ChainRiskStatus is the read model exposed for a chain.
type ChainRiskStatus struct {
	Chain           models.Chain    `json:"chain"`
	Tripped         bool            `json:"tripped"`
	TripReason      string          `json:"trip_reason,omitempty"`
	TrippedAt       *time.Time      `json:"tripped_at,omitempty"`
	DailyLimit      decimal.Decimal `json:"daily_limit"`
	DailySpent      decimal.Decimal `json:"daily_spent"`
	DailyRemaining  decimal.Decimal `json:"daily_remaining"`
	TreasuryBalance decimal.Decimal `json:"treasury_balance"`
}

// NewRiskService creates a RiskService.
func NewRiskService(db *gorm.DB, audit *AuditService, cfg *config.Config) *RiskService {
	return &RiskService{
		repo:  repository.NewRiskRepository(db),
		audit: audit,
		cfg:   cfg,
	}
}

func spendDate(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// CheckAndReserve evaluates a prospective outflow against the breaker,
// the daily limit, and the treasury fraction cap, in that order. The
// first violated control decides the rejection; later controls are not
// consulted. It does not mutate spend state; RecordSpend does that after
// the outflow actually happens.
func (s *RiskService) CheckAndReserve(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errs.Validation(errs.CodeInvalidAmount, "spend amount must be positive")
	}

	breaker, err := s.repo.OpenBreaker(ctx, chain)
	if err != nil {
		return err
	}
	if breaker != nil {
		metrics.RiskDenials.WithLabelValues(string(chain), "circuit_breaker").Inc()
		return errs.RiskDenied(errs.CodeCircuitBreakerOpen, "spending on %s is halted", chain).
			WithDetail("reason", breaker.Reason).
			WithDetail("tripped_at", breaker.TriggeredAt.UTC().Format(time.RFC3339))
	}

	now := time.Now().UTC()
	limit := s.cfg.DailyLimit(string(chain))
	if limit.Sign() > 0 {
		spent, err := s.repo.DailySpent(ctx, chain, spendDate(now))
		if err != nil {
			return err
		}
		if spent.Add(amount).GreaterThan(limit) {
			remaining := limit.Sub(spent)
			if remaining.Sign() < 0 {
				remaining = decimal.Zero
			}
			metrics.RiskDenials.WithLabelValues(string(chain), "daily_limit").Inc()
			s.audit.Record(ctx, models.AuditLimitViolation, chain, "", "", map[string]interface{}{
				"requested": amount.String(),
				"spent":     spent.String(),
				"limit":     limit.String(),
				"remaining": remaining.String(),
			})
			return errs.RiskDenied(errs.CodeDailyLimitExceeded, "daily spending limit on %s exceeded", chain).
				WithDetail("remaining", remaining.String()).
				WithDetail("limit", limit.String())
		}
	}

	fraction := s.cfg.HourlyOutflowFraction()
	if fraction.Sign() > 0 {
		treasury, err := s.repo.TreasuryBalance(ctx, chain, asset)
		if err != nil {
			return err
		}
		threshold := treasury.Mul(fraction)
		if amount.GreaterThan(threshold) {
			metrics.RiskDenials.WithLabelValues(string(chain), "outflow_threshold").Inc()
			return errs.RiskDenied(errs.CodeOutflowThreshold, "amount exceeds the per-transaction treasury threshold on %s", chain).
				WithDetail("threshold", threshold.String()).
				WithDetail("treasury_balance", treasury.String())
		}
	}

	return nil
}

// RecordSpend charges a completed outflow to the chain's daily
// accumulator and debits the treasury balance. Callers gate this on a
// won conditional transition, so it runs exactly once per execution.
func (s *RiskService) RecordSpend(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal, quoteID string) error {
	if amount.Sign() <= 0 {
		return errs.Validation(errs.CodeInvalidAmount, "spend amount must be positive")
	}
	now := time.Now().UTC()
	if err := s.repo.ApplySpend(ctx, chain, asset, amount, spendDate(now)); err != nil {
		return err
	}

	if spent, err := s.repo.DailySpent(ctx, chain, spendDate(now)); err == nil {
		f, _ := spent.Float64()
		metrics.DailySpent.WithLabelValues(string(chain)).Set(f)
	}

	s.audit.Record(ctx, models.AuditSpendRecorded, chain, quoteID, "", map[string]interface{}{
		"asset":  asset,
		"amount": amount.String(),
	})
	return nil
}

// RecordDeposit credits a verified funding inflow to the treasury
// balance of the funding chain.
func (s *RiskService) RecordDeposit(ctx context.Context, chain models.Chain, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errs.Validation(errs.CodeInvalidAmount, "deposit amount must be positive")
	}
	return s.repo.ApplyDeposit(ctx, chain, asset, amount)
}

// TripBreaker opens the breaker for a chain. Idempotent: tripping an
// already-tripped chain keeps the original trip record.
func (s *RiskService) TripBreaker(ctx context.Context, chain models.Chain, reason, triggeredBy string) (*models.CircuitBreakerState, error) {
	if !models.IsValidChain(chain) {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unknown chain %q", chain)
	}
	state, err := s.repo.TripBreaker(ctx, chain, reason, triggeredBy)
	if err != nil {
		return nil, err
	}
	metrics.CircuitBreakerActive.WithLabelValues(string(chain)).Set(1)
	logrus.WithFields(logrus.Fields{
		"chain":        chain,
		"reason":       state.Reason,
		"triggered_by": state.TriggeredBy,
	}).Warn("circuit breaker tripped")
	s.audit.Record(ctx, models.AuditBreakerTripped, chain, "", triggeredBy, map[string]interface{}{
		"reason": state.Reason,
	})
	return state, nil
}

// ResetBreaker closes the open trip for a chain. Returns false when the
// chain was not tripped.
func (s *RiskService) ResetBreaker(ctx context.Context, chain models.Chain, resolvedBy string) (bool, error) {
	if !models.IsValidChain(chain) {
		return false, errs.Validation(errs.CodeUnsupportedChainPair, "unknown chain %q", chain)
	}
	resolved, err := s.repo.ResolveBreaker(ctx, chain, resolvedBy, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !resolved {
		return false, nil
	}
	metrics.CircuitBreakerActive.WithLabelValues(string(chain)).Set(0)
	logrus.WithFields(logrus.Fields{
		"chain":       chain,
		"resolved_by": resolvedBy,
	}).Info("circuit breaker reset")
	s.audit.Record(ctx, models.AuditBreakerReset, chain, "", resolvedBy, nil)
	return true, nil
}

// ChainStatus assembles the risk read model for a chain.
func (s *RiskService) ChainStatus(ctx context.Context, chain models.Chain, asset string) (*ChainRiskStatus, error) {
	if !models.IsValidChain(chain) {
		return nil, errs.Validation(errs.CodeUnsupportedChainPair, "unknown chain %q", chain)
	}

	now := time.Now().UTC()
	status := &ChainRiskStatus{
		Chain:      chain,
		DailyLimit: s.cfg.DailyLimit(string(chain)),
	}

	breaker, err := s.repo.OpenBreaker(ctx, chain)
	if err != nil {
		return nil, err
	}
	if breaker != nil {
		status.Tripped = true
		status.TripReason = breaker.Reason
		triggered := breaker.TriggeredAt
		status.TrippedAt = &triggered
	}

	status.DailySpent, err = s.repo.DailySpent(ctx, chain, spendDate(now))
	if err != nil {
		return nil, err
	}
	status.DailyRemaining = status.DailyLimit.Sub(status.DailySpent)
	if status.DailyLimit.Sign() <= 0 || status.DailyRemaining.Sign() < 0 {
		status.DailyRemaining = decimal.Zero
	}

	status.TreasuryBalance, err = s.repo.TreasuryBalance(ctx, chain, asset)
	if err != nil {
		return nil, err
	}
	return status, nil
}
