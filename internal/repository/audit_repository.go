package repository

import (
	"context"

	"crosspay/internal/models"

	"gorm.io/gorm"
)

// AuditRepository appends immutable audit rows. There is no update or
// delete on purpose.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	FindByEntity(ctx context.Context, entityID string) ([]*models.AuditLogEntry, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository backed by gorm.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) FindByEntity(ctx context.Context, entityID string) ([]*models.AuditLogEntry, error) {
	var entries []*models.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
