package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/DocFox/app/models"
)

// ErrNotFound is returned instead of gorm.ErrRecordNotFound so callers do not
// depend on the persistence library.
var ErrNotFound = errors.New("record not found")

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// JobFilter narrows List. Zero values are ignored.
type JobFilter struct {
	UserID uint
	RepoID uint
	Status models.JobStatus
	Limit  int
}

// JobRepository persists the audit trail of dispatched jobs.
type JobRepository interface {
	// Upsert inserts the job or, if job_id exists, moves it back to the
	// given status with fresh input and attempt counters.
	Upsert(ctx context.Context, job *models.Job) error
	GetByJobID(ctx context.Context, jobID string) (*models.Job, error)
	Finish(ctx context.Context, jobID string, status models.JobStatus, output datatypes.JSON, errMsg string, duration time.Duration) error
	List(ctx context.Context, f JobFilter) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	DeleteByIDs(ctx context.Context, ids []uint) error
}

// WebhookEventRepository stores verified deliveries.
type WebhookEventRepository interface {
	// CreateIfNotExists reports false when (repo_id, delivery_id) was seen.
	CreateIfNotExists(ctx context.Context, ev *models.WebhookEvent) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
	SetJobID(ctx context.Context, id uint, jobID string) error
	MarkProcessed(ctx context.Context, id uint, jobID string) error
	SetError(ctx context.Context, id uint, msg string) error
}

// RepoRepository manages connected repositories.
type RepoRepository interface {
	Create(ctx context.Context, repo *models.Repo) error
	GetByID(ctx context.Context, id uint) (*models.Repo, error)
	GetByFullName(ctx context.Context, fullName string) (*models.Repo, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Repo, error)
	RecordProcessed(ctx context.Context, id uint, sha, summary string, coverage float64, at time.Time) error
	UpdateCoverage(ctx context.Context, id uint, score float64) error
}

// UserRepository resolves the accounts jobs run for.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)
	SetAPIKey(ctx context.Context, id uint, hash, prefix string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Job          JobRepository
	WebhookEvent WebhookEventRepository
	Repo         RepoRepository
	User         UserRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Job:          NewJobRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Repo:         NewRepoRepository(db),
		User:         NewUserRepository(db),
	}
}
