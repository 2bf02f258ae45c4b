package services

import (
	"context"
	"encoding/json"
	"time"

	"crosspay/internal/models"
	"crosspay/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditService appends immutable records of every state-changing decision.
// Recording is best-effort: an audit write failure is logged loudly but
// never fails the decision it describes.
type AuditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates an AuditService.
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{repo: repository.NewAuditRepository(db)}
}

// Record appends one audit entry. detail is marshaled to JSON.
func (s *AuditService) Record(ctx context.Context, eventType string, chain models.Chain, entityID, userID string, detail map[string]interface{}) {
	var payload string
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			logrus.WithError(err).WithField("event_type", eventType).Error("failed to marshal audit detail")
		} else {
			payload = string(raw)
		}
	}

	entry := &models.AuditLogEntry{
		EventType: eventType,
		Chain:     chain,
		EntityID:  entityID,
		UserID:    userID,
		Detail:    payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"entity_id":  entityID,
		}).Error("failed to append audit entry")
	}
}

// History returns the ordered audit trail for an entity.
func (s *AuditService) History(ctx context.Context, entityID string) ([]*models.AuditLogEntry, error) {
	return s.repo.FindByEntity(ctx, entityID)
}
