// Package archive moves finished job records out of the database into
// object storage once they age past the retention window.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

const (
	defaultRetention = 30 * 24 * time.Hour
	defaultBatchSize = 500
	defaultInterval  = 6 * time.Hour
)

// JobStore is the slice of the job repository the archiver needs.
type JobStore interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	DeleteByIDs(ctx context.Context, ids []uint) error
}

type Archiver struct {
	jobs  JobStore
	store Store
	cfg   config.Archive
	now   func() time.Time
}

func NewArchiver(jobs JobStore, store Store, cfg config.Archive) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Archiver{jobs: jobs, store: store, cfg: cfg, now: time.Now}
}

// Task schedules Run on the job manager.
func (a *Archiver) Task() jobqueue.Task {
	return jobqueue.Task{
		Name:     "archive_jobs",
		Interval: a.cfg.Interval,
		Run: func(ctx context.Context) error {
			_, err := a.Run(ctx)
			return err
		},
	}
}

// ObjectKey is where one batch lands: jobs/YYYY/MM/DD/<unix>-<batch>.jsonl.
func ObjectKey(at time.Time, batch int) string {
	at = at.UTC()
	return fmt.Sprintf("jobs/%04d/%02d/%02d/%d-%d.jsonl", at.Year(), int(at.Month()), at.Day(), at.Unix(), batch)
}

// Run archives every job that finished before the retention cutoff and
// returns how many rows were moved. Rows are deleted only after their batch
// was uploaded.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	now := a.now()
	cutoff := now.Add(-a.cfg.Retention)
	total := 0

	for batch := 0; ; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		jobs, err := a.jobs.ListTerminalBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list finished jobs: %w", err)
		}
		if len(jobs) == 0 {
			break
		}

		body, ids, err := encode(jobs)
		if err != nil {
			return total, err
		}
		key := ObjectKey(now, batch)
		if err := a.store.Put(ctx, key, body); err != nil {
			return total, err
		}
		if err := a.jobs.DeleteByIDs(ctx, ids); err != nil {
			// The batch is uploaded again on the next run; readers dedupe on job_id.
			return total, fmt.Errorf("delete archived jobs: %w", err)
		}
		total += len(jobs)
		log.Infof("[Archive] Archived %d jobs to %s", len(jobs), key)

		if len(jobs) < a.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		log.Infof("[Archive] Archived %d jobs older than %s", total, cutoff.Format(time.RFC3339))
	}
	return total, nil
}

func encode(jobs []models.Job) ([]byte, []uint, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]uint, 0, len(jobs))
	for i := range jobs {
		if err := enc.Encode(&jobs[i]); err != nil {
			return nil, nil, fmt.Errorf("encode job %s: %w", jobs[i].JobID, err)
		}
		ids = append(ids, jobs[i].ID)
	}
	return buf.Bytes(), ids, nil
}
