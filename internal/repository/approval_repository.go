package repository

import (
	"context"
	"time"

	"crosspay/internal/models"

	"gorm.io/gorm"
)

// ApprovalRepository defines data access for spending approvals. Consume is
// the single-use gate: the is_used flip happens in one conditional update.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.SpendingApproval) error
	GetByID(ctx context.Context, id string) (*models.SpendingApproval, error)
	FindByUser(ctx context.Context, userID string, page, pageSize int) ([]*models.SpendingApproval, int64, error)

	// HasUsedForQuote reports whether any approval for the quote has been
	// consumed. Quote commit checks this as its precondition.
	HasUsedForQuote(ctx context.Context, quoteID string) (bool, error)

	// Consume atomically flips is_used false->true and stores the signature.
	// Returns (true, nil) for the winning caller, (false, nil) when the
	// approval was already used.
	Consume(ctx context.Context, id, signature string, usedAt time.Time) (bool, error)
}

type approvalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates an ApprovalRepository backed by gorm.
func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, approval *models.SpendingApproval) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

func (r *approvalRepository) GetByID(ctx context.Context, id string) (*models.SpendingApproval, error) {
	var approval models.SpendingApproval
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&approval).Error; err != nil {
		return nil, err
	}
	return &approval, nil
}

func (r *approvalRepository) FindByUser(ctx context.Context, userID string, page, pageSize int) ([]*models.SpendingApproval, int64, error) {
	var approvals []*models.SpendingApproval
	var total int64

	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if err := query.Model(&models.SpendingApproval{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&approvals).Error
	return approvals, total, err
}

func (r *approvalRepository) HasUsedForQuote(ctx context.Context, quoteID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SpendingApproval{}).
		Where("quote_id = ? AND is_used = ?", quoteID, true).
		Count(&count).Error
	return count > 0, err
}

// Consume conditions the write on is_used still being false at the moment
// of the update. Under concurrent submission of the same approval exactly
// one caller sees RowsAffected == 1.
func (r *approvalRepository) Consume(ctx context.Context, id, signature string, usedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SpendingApproval{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]interface{}{
			"is_used":    true,
			"signature":  signature,
			"used_at":    usedAt,
			"updated_at": usedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
