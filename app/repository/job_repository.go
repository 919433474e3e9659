package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/DocFox/app/models"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 200
)

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Upsert(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "input", "retry_count", "max_retries", "started_at", "error", "updated_at",
		}),
	}).Create(job).Error
}

func (r *jobRepository) GetByJobID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, mapErr(err)
	}
	return &job, nil
}

func (r *jobRepository) Finish(ctx context.Context, jobID string, status models.JobStatus, output datatypes.JSON, errMsg string, duration time.Duration) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       status,
		"error":        errMsg,
		"completed_at": &now,
		"duration":     duration.Milliseconds(),
	}
	if output != nil {
		updates["output"] = output
	}
	res := r.db.WithContext(ctx).Model(&models.Job{}).Where("job_id = ?", jobID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *jobRepository) List(ctx context.Context, f JobFilter) ([]models.Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}

	q := r.db.WithContext(ctx).Model(&models.Job{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.RepoID != 0 {
		q = q.Where("repo_id = ?", f.RepoID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var jobs []models.Job
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// ListTerminalBefore returns finished jobs last touched before cutoff, oldest
// first.
func (r *jobRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusDeadLetter}).
		Where("updated_at < ?", cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) DeleteByIDs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Job{}).Error
}
