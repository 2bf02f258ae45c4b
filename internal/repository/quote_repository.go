package repository

import (
	"context"
	"time"

	"crosspay/internal/models"

	"gorm.io/gorm"
)

// QuoteRepository defines data access for quotes. All status transitions
// are conditional updates guarded by the expected prior status; callers
// inspect the returned bool to detect a lost race.
type QuoteRepository interface {
	Create(ctx context.Context, quote *models.Quote) error
	GetByID(ctx context.Context, id string) (*models.Quote, error)
	FindByUser(ctx context.Context, userID string, page, pageSize int) ([]*models.Quote, int64, error)

	// TransitionStatus sets status to next only if the current status equals
	// prior. Returns (true, nil) when this caller won the transition and
	// (false, nil) when the row existed with a different status.
	TransitionStatus(ctx context.Context, id string, prior, next models.QuoteStatus, extra map[string]interface{}) (bool, error)

	// ExpireStale transitions every pending quote past its expiry to
	// expired, returning only the ids it actually transitioned.
	ExpireStale(ctx context.Context, now time.Time) ([]string, error)

	IsPairSupported(ctx context.Context, funding, execution models.Chain) (bool, error)
}

type quoteRepository struct {
	db *gorm.DB
}

// NewQuoteRepository creates a QuoteRepository backed by gorm.
func NewQuoteRepository(db *gorm.DB) QuoteRepository {
	return &quoteRepository{db: db}
}

func (r *quoteRepository) Create(ctx context.Context, quote *models.Quote) error {
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *quoteRepository) GetByID(ctx context.Context, id string) (*models.Quote, error) {
	var quote models.Quote
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *quoteRepository) FindByUser(ctx context.Context, userID string, page, pageSize int) ([]*models.Quote, int64, error) {
	var quotes []*models.Quote
	var total int64

	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if err := query.Model(&models.Quote{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&quotes).Error
	return quotes, total, err
}

// TransitionStatus is the single atomic write behind every quote lifecycle
// change. RowsAffected == 0 means a concurrent caller already moved the
// quote; the loser observes a well-defined conflict, never a double write.
func (r *quoteRepository) TransitionStatus(ctx context.Context, id string, prior, next models.QuoteStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("id = ? AND status = ?", id, prior).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *quoteRepository) ExpireStale(ctx context.Context, now time.Time) ([]string, error) {
	var candidates []string
	err := r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("status = ? AND expires_at < ?", models.QuoteStatusPending, now).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Per-id guarded updates: a quote committed after the candidate scan
	// loses here and must not be reported as expired.
	expired := make([]string, 0, len(candidates))
	for _, id := range candidates {
		result := r.db.WithContext(ctx).
			Model(&models.Quote{}).
			Where("id = ? AND status = ? AND expires_at < ?", id, models.QuoteStatusPending, now).
			Updates(map[string]interface{}{
				"status":     models.QuoteStatusExpired,
				"updated_at": now,
			})
		if result.Error != nil {
			return expired, result.Error
		}
		if result.RowsAffected > 0 {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (r *quoteRepository) IsPairSupported(ctx context.Context, funding, execution models.Chain) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SupportedChainPair{}).
		Where("funding_chain = ? AND execution_chain = ? AND enabled = ?", funding, execution, true).
		Count(&count).Error
	return count > 0, err
}
