package repository

import (
	"context"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ImageRepository interface {
	Create(ctx context.Context, job *models.ImageJob) error
	MarkSubmitted(ctx context.Context, jobID uuid.UUID, externalID string) error
	Complete(ctx context.Context, jobID uuid.UUID, externalID, status, imageURL, errMsg string) (*models.ImageJob, bool, error)
	ListByPersona(ctx context.Context, userID string, personaID uuid.UUID) ([]models.ImageJob, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.ImageJob, error)
}

type GormImageRepository struct {
	db *gorm.DB
}

func NewGormImageRepository(db *gorm.DB) *GormImageRepository {
	return &GormImageRepository{db: db}
}

func (r *GormImageRepository) Create(ctx context.Context, job *models.ImageJob) error {
	if job.Status == "" {
		job.Status = models.ImageStatusPending
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(job).Error
}

func (r *GormImageRepository) MarkSubmitted(ctx context.Context, jobID uuid.UUID, externalID string) error {
	return r.db.WithContext(ctx).Model(&models.ImageJob{}).
		Where("id = ? AND status = ?", jobID, models.ImageStatusPending).
		Updates(map[string]any{"external_id": externalID, "updated_at": time.Now()}).Error
}

// Complete moves a pending job to its final status. Only the first caller
// sees ok=true, so the refund of a failed job happens once. A non-empty
// externalID must match the recorded task id; a job whose task id was never
// recorded takes it.
func (r *GormImageRepository) Complete(ctx context.Context, jobID uuid.UUID, externalID, status, imageURL, errMsg string) (*models.ImageJob, bool, error) {
	var job models.ImageJob
	updates := map[string]any{
		"status":     status,
		"image_url":  imageURL,
		"error":      errMsg,
		"updated_at": time.Now(),
	}
	q := r.db.WithContext(ctx).Model(&job).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", jobID, models.ImageStatusPending)
	if externalID != "" {
		q = q.Where("(external_id IS NULL OR external_id = '' OR external_id = ?)", externalID)
		updates["external_id"] = externalID
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &job, true, nil
	}

	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		return nil, false, notFound(err, "image job %s", jobID)
	}
	if externalID != "" && job.ExternalID != "" && job.ExternalID != externalID {
		return nil, false, apperrors.Validationf("task %s does not belong to image job %s", externalID, jobID)
	}
	return &job, false, nil
}

func (r *GormImageRepository) ListByPersona(ctx context.Context, userID string, personaID uuid.UUID) ([]models.ImageJob, error) {
	var jobs []models.ImageJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND persona_id = ?", userID, personaID).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// ListStale returns pending jobs created before olderThan, oldest first
func (r *GormImageRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.ImageJob, error) {
	var jobs []models.ImageJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.ImageStatusPending, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
