package repository

import (
	"context"
	"time"

	"crosspay/internal/models"

	"gorm.io/gorm"
)

// ExecutionRepository defines data access for execution rows.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByQuote(ctx context.Context, quoteID string) (*models.Execution, error)

	// MarkSuccess conditionally completes a pending execution.
	MarkSuccess(ctx context.Context, id, txHash string, completedAt time.Time) (bool, error)

	// RecordFailure atomically bumps retry_count, stores the error, and
	// fails the execution when the incremented count reaches maxRetries.
	// Conditional on the execution still being pending; the bool reports
	// whether this caller won, and the returned row carries the
	// post-increment state that decides terminality.
	RecordFailure(ctx context.Context, id, reason string, maxRetries int) (*models.Execution, bool, error)

	// ConsecutiveFailures counts executions that ended failed on a chain
	// since the last success, for the automatic breaker trip.
	ConsecutiveFailures(ctx context.Context, chain models.Chain) (int, error)
}

// SettlementRepository defines data access for funding-side settlements.
type SettlementRepository interface {
	Create(ctx context.Context, settlement *models.Settlement) error
	GetByFundingTx(ctx context.Context, chain models.Chain, txHash string) (*models.Settlement, error)
	FindByQuote(ctx context.Context, quoteID string) ([]*models.Settlement, error)
	HasVerifiedForQuote(ctx context.Context, quoteID string) (bool, error)

	// LinkExecution backfills execution_id on settlements recorded before
	// the quote committed (funding observed while the commit was deferred).
	LinkExecution(ctx context.Context, quoteID, executionID string) error
}

type executionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates an ExecutionRepository backed by gorm.
func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) Create(ctx context.Context, execution *models.Execution) error {
	return r.db.WithContext(ctx).Create(execution).Error
}

func (r *executionRepository) GetByQuote(ctx context.Context, quoteID string) (*models.Execution, error) {
	var execution models.Execution
	if err := r.db.WithContext(ctx).Where("quote_id = ?", quoteID).First(&execution).Error; err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *executionRepository) MarkSuccess(ctx context.Context, id, txHash string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ? AND status = ?", id, models.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ExecutionStatusSuccess,
			"tx_hash":      txHash,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *executionRepository) RecordFailure(ctx context.Context, id, reason string, maxRetries int) (*models.Execution, bool, error) {
	// The CASE sees the pre-update retry_count, so terminality is decided
	// by the same atomic write that increments it. Duplicate deliveries
	// lose the status guard and cannot push the count past the cap.
	result := r.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ? AND status = ?", id, models.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  reason,
			"status": gorm.Expr(
				"CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END",
				maxRetries, models.ExecutionStatusFailed, models.ExecutionStatusPending,
			),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}

	var execution models.Execution
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&execution).Error; err != nil {
		return nil, false, err
	}
	return &execution, true, nil
}

func (r *executionRepository) ConsecutiveFailures(ctx context.Context, chain models.Chain) (int, error) {
	var lastSuccess models.Execution
	cutoff := time.Time{}
	err := r.db.WithContext(ctx).
		Where("chain = ? AND status = ?", chain, models.ExecutionStatusSuccess).
		Order("updated_at DESC").
		First(&lastSuccess).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		// no success yet, count all failures
	case err != nil:
		return 0, err
	default:
		cutoff = lastSuccess.UpdatedAt
	}

	var count int64
	query := r.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("chain = ? AND status = ?", chain, models.ExecutionStatusFailed)
	if !cutoff.IsZero() {
		query = query.Where("updated_at > ?", cutoff)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a SettlementRepository backed by gorm.
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) Create(ctx context.Context, settlement *models.Settlement) error {
	return r.db.WithContext(ctx).Create(settlement).Error
}

func (r *settlementRepository) GetByFundingTx(ctx context.Context, chain models.Chain, txHash string) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Where("funding_chain = ? AND funding_tx_hash = ?", chain, txHash).
		First(&settlement).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *settlementRepository) FindByQuote(ctx context.Context, quoteID string) ([]*models.Settlement, error) {
	var settlements []*models.Settlement
	err := r.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("settled_at ASC").
		Find(&settlements).Error
	return settlements, err
}

func (r *settlementRepository) LinkExecution(ctx context.Context, quoteID, executionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("quote_id = ? AND execution_id = ?", quoteID, "").
		Update("execution_id", executionID).Error
}

func (r *settlementRepository) HasVerifiedForQuote(ctx context.Context, quoteID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("quote_id = ? AND verified_at IS NOT NULL", quoteID).
		Count(&count).Error
	return count > 0, err
}
