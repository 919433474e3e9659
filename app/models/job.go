package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobType string

const (
	JobTypeProcessCommit     JobType = "process_commit"
	JobTypeGenerateDocs      JobType = "generate_docs"
	JobTypeApplyPatch        JobType = "apply_patch"
	JobTypeSendEmail         JobType = "send_email"
	JobTypeRecomputeCoverage JobType = "recompute_coverage"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead-letter"
)

// Job is the audit record of one dispatched unit of work. For commit intake
// JobID is the commit SHA.
type Job struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	JobID          string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"job_id"`
	JobType        JobType        `gorm:"type:varchar(32);not null;index" json:"job_type"`
	Status         JobStatus      `gorm:"type:varchar(20);not null;index:idx_jobs_status_created,priority:1" json:"status"`
	UserID         uint           `gorm:"index" json:"user_id"`
	RepoID         uint           `gorm:"index:idx_jobs_repo_created,priority:1" json:"repo_id"`
	WebhookEventID *uint          `json:"webhook_event_id,omitempty"`
	Input          datatypes.JSON `json:"input,omitempty"`
	Output         datatypes.JSON `json:"output,omitempty"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	RetryCount     int            `gorm:"default:0" json:"retry_count"`
	MaxRetries     int            `gorm:"default:0" json:"max_retries"`
	StartedAt      *time.Time     `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	Duration       int64          `gorm:"default:0" json:"duration_ms"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index:idx_jobs_status_created,priority:2;index:idx_jobs_repo_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the job will not run again.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusDeadLetter:
		return true
	}
	return false
}
