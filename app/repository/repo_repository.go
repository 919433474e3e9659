package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/DocFox/app/models"
)

type repoRepository struct {
	db *gorm.DB
}

func NewRepoRepository(db *gorm.DB) RepoRepository {
	return &repoRepository{db: db}
}

func (r *repoRepository) Create(ctx context.Context, repo *models.Repo) error {
	return r.db.WithContext(ctx).Create(repo).Error
}

func (r *repoRepository) GetByID(ctx context.Context, id uint) (*models.Repo, error) {
	var repo models.Repo
	if err := r.db.WithContext(ctx).First(&repo, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &repo, nil
}

func (r *repoRepository) GetByFullName(ctx context.Context, fullName string) (*models.Repo, error) {
	var repo models.Repo
	if err := r.db.WithContext(ctx).Where("full_name = ?", fullName).First(&repo).Error; err != nil {
		return nil, mapErr(err)
	}
	return &repo, nil
}

func (r *repoRepository) ListByUser(ctx context.Context, userID uint) ([]models.Repo, error) {
	var repos []models.Repo
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&repos).Error
	return repos, err
}

// RecordProcessed advances the last processed commit. Concurrent writers are
// last-writer-wins.
func (r *repoRepository) RecordProcessed(ctx context.Context, id uint, sha, summary string, coverage float64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Repo{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_processed_commit":  sha,
			"last_processed_summary": summary,
			"last_processed_at":      at,
			"coverage_score":         coverage,
		}).Error
}

func (r *repoRepository) UpdateCoverage(ctx context.Context, id uint, score float64) error {
	return r.db.WithContext(ctx).Model(&models.Repo{}).
		Where("id = ?", id).
		Update("coverage_score", score).Error
}
