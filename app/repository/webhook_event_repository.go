package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/DocFox/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *webhookEventRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &ev, nil
}

func (r *webhookEventRepository) SetJobID(ctx context.Context, id uint, jobID string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("job_id", jobID).Error
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, jobID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
			"job_id":       jobID,
		}).Error
}

func (r *webhookEventRepository) SetError(ctx context.Context, id uint, msg string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("error", msg).Error
}
