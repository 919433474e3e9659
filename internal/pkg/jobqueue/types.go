package jobqueue

import (
	"encoding/json"
	"errors"
	"time"
)

// Queue names. Each has its own attempts, backoff and worker pool.
const (
	QueueProcessCommit     = "process_commit"
	QueueGenerateDocs      = "generate_docs"
	QueueApplyPatch        = "apply_patch"
	QueueSendEmail         = "send_email"
	QueueRecomputeCoverage = "recompute_coverage"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDeadLetter JobStatus = "dead-letter"
)

var (
	// ErrDuplicateJob is returned with the existing id when an explicit job id
	// is already queued, running or retained.
	ErrDuplicateJob = errors.New("job already exists")
	ErrJobNotFound  = errors.New("job not found")
	ErrUnknownQueue = errors.New("unknown queue")
)

// Job is the dispatcher's record of one unit of work, stored as JSON under
// job:<id>.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	RunAt       *time.Time      `json:"run_at,omitempty"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// MarkAsProcessing claims the job for one more attempt.
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.Attempts++
	j.ProcessedAt = &now
	j.RunAt = nil
	j.UpdatedAt = now
}

func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.ErrorMsg = ""
	j.UpdatedAt = now
}

func (j *Job) MarkAsFailed(errorMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.ErrorMsg = errorMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func (j *Job) MarkAsRetrying(errorMsg string, runAt time.Time) {
	j.Status = JobStatusRetrying
	j.ErrorMsg = errorMsg
	j.RunAt = &runAt
	j.UpdatedAt = time.Now()
}

func (j *Job) MarkAsDeadLetter(errorMsg string) {
	now := time.Now()
	j.Status = JobStatusDeadLetter
	j.ErrorMsg = errorMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// IsRetryable reports whether another attempt is allowed.
func (j *Job) IsRetryable() bool {
	return j.Attempts < j.MaxAttempts
}

// IsTerminal reports whether the job will not run again.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusDeadLetter:
		return true
	}
	return false
}

// QueueConfig describes one named queue.
type QueueConfig struct {
	Name        string
	Attempts    int
	Backoff     time.Duration
	Concurrency int
}

// DefaultQueues is the production queue table.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: QueueProcessCommit, Attempts: 3, Backoff: 2 * time.Second, Concurrency: 5},
		{Name: QueueGenerateDocs, Attempts: 3, Backoff: 3 * time.Second, Concurrency: 2},
		{Name: QueueApplyPatch, Attempts: 3, Backoff: 2 * time.Second, Concurrency: 3},
		{Name: QueueSendEmail, Attempts: 5, Backoff: 5 * time.Second, Concurrency: 10},
		{Name: QueueRecomputeCoverage, Attempts: 2, Backoff: 10 * time.Second, Concurrency: 2},
	}
}

// EnqueueOptions controls identity, ordering and scheduling of a new job.
type EnqueueOptions struct {
	// ID makes the job idempotent; empty means a random id.
	ID string
	// Priority > 0 puts the job at the head of its queue.
	Priority int
	Delay    time.Duration
}

// fatalError marks a handler failure that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the dispatcher fails the job without further attempts.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Backoff is base * 2^(attempt-1), capped at max.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
