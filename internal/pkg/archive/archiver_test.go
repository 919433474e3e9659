package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/database/dbtest"
)

type memStore struct {
	objects map[string][]byte
	keys    []string
	err     error
}

func (m *memStore) Put(_ context.Context, key string, body []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), body...)
	m.keys = append(m.keys, key)
	return nil
}

func seedJob(t *testing.T, db *gorm.DB, jobID string, status models.JobStatus, age time.Duration) {
	t.Helper()
	repo := repository.NewJobRepository(db)
	require.NoError(t, repo.Upsert(context.Background(), &models.Job{JobID: jobID, JobType: models.JobTypeApplyPatch, Status: status}))
	require.NoError(t, db.Model(&models.Job{}).Where("job_id = ?", jobID).UpdateColumn("updated_at", time.Now().Add(-age)).Error)
}

func decodeLines(t *testing.T, body []byte) []models.Job {
	t.Helper()
	var out []models.Job
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var j models.Job
		require.NoError(t, json.Unmarshal(sc.Bytes(), &j))
		out = append(out, j)
	}
	return out
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fmt.Sprintf("jobs/2026/03/07/%d-0.jsonl", at.Unix()), ObjectKey(at, 0))
	assert.Equal(t, fmt.Sprintf("jobs/2026/03/07/%d-2.jsonl", at.Unix()), ObjectKey(at, 2))
}

func TestRun(t *testing.T) {
	db := dbtest.New(t)
	jobs := repository.NewJobRepository(db)
	month := 31 * 24 * time.Hour

	seedJob(t, db, "sha1", models.JobStatusCompleted, month)
	seedJob(t, db, "generate_docs:sha1", models.JobStatusFailed, month)
	seedJob(t, db, "apply_patch:sha1", models.JobStatusDeadLetter, month)
	seedJob(t, db, "sha2", models.JobStatusProcessing, month)
	seedJob(t, db, "sha3", models.JobStatusCompleted, time.Hour)

	store := &memStore{}
	a := NewArchiver(jobs, store, config.Archive{Retention: 30 * 24 * time.Hour, BatchSize: 2})
	fixed := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, store.keys, 2)
	assert.Equal(t, ObjectKey(fixed, 0), store.keys[0])

	var archived []string
	for _, k := range store.keys {
		for _, j := range decodeLines(t, store.objects[k]) {
			archived = append(archived, j.JobID)
		}
	}
	assert.ElementsMatch(t, []string{"sha1", "generate_docs:sha1", "apply_patch:sha1"}, archived)

	for _, id := range archived {
		_, err := jobs.GetByJobID(context.Background(), id)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
	for _, id := range []string{"sha2", "sha3"} {
		_, err := jobs.GetByJobID(context.Background(), id)
		assert.NoError(t, err, id)
	}
}

func TestRun_UploadFailureKeepsRows(t *testing.T) {
	db := dbtest.New(t)
	jobs := repository.NewJobRepository(db)
	seedJob(t, db, "sha1", models.JobStatusCompleted, 60*24*time.Hour)

	a := NewArchiver(jobs, &memStore{err: errors.New("bucket gone")}, config.Archive{})
	n, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)

	_, err = jobs.GetByJobID(context.Background(), "sha1")
	assert.NoError(t, err)
}

func TestRun_NothingToArchive(t *testing.T) {
	store := &memStore{}
	a := NewArchiver(repository.NewJobRepository(dbtest.New(t)), store, config.Archive{})
	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.keys)
}

func TestTask(t *testing.T) {
	a := NewArchiver(nil, nil, config.Archive{Interval: time.Hour})
	task := a.Task()
	assert.Equal(t, "archive_jobs", task.Name)
	assert.Equal(t, time.Hour, task.Interval)
}
