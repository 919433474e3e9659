// Package pipeline runs the stages that turn a pushed commit into a
// documentation update: intake, generate, apply and notify, plus the
// coverage recompute that follows a successful apply.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
	"github.com/ManuelReschke/DocFox/internal/pkg/completion"
	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
	"github.com/ManuelReschke/DocFox/internal/pkg/diffengine"
	"github.com/ManuelReschke/DocFox/internal/pkg/docgen"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/mail"
	"github.com/ManuelReschke/DocFox/internal/pkg/scm"
)

var (
	ErrNoParentCommit = errors.New("No parent commit found")
	ErrNoFilesToWrite = errors.New("No files to write")
)

// Enqueuer is the part of the dispatcher the stages use to hand work on.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts jobqueue.EnqueueOptions) (string, error)
}

// Registrar binds handlers to queues.
type Registrar interface {
	Register(queue string, h jobqueue.Handler)
}

type Generator interface {
	Generate(ctx context.Context, msgs []completion.Message) (*docgen.Output, error)
}

// Ledger is the credit gate of the generate stage.
type Ledger interface {
	HasSufficientCredits(ctx context.Context, userID uint, amount int64) (bool, error)
	Deduct(ctx context.Context, userID uint, amount int64, reason, jobID string) (*credits.Result, error)
	IsBelowThreshold(ctx context.Context, userID uint) (bool, error)
}

// Recorder receives usage counters. Failures are logged by the recorder.
type Recorder interface {
	Track(ctx context.Context, userID uint, metric analytics.Metric, by int64)
	RecordDiffSize(ctx context.Context, userID uint, size int64) error
	RecordOutcome(ctx context.Context, userID uint, success bool) error
}

// Deps are the collaborators of every stage.
type Deps struct {
	Queue     Enqueuer
	Jobs      repository.JobRepository
	Repos     repository.RepoRepository
	Users     repository.UserRepository
	Events    repository.WebhookEventRepository
	SCM       scm.Provider
	Generator Generator
	Credits   Ledger
	Analytics Recorder
	Emitter   events.Emitter
	Mailer    mail.Mailer
	Guard     *diffengine.Guard
	// AutomationPrefix names the branches PR mode writes to.
	AutomationPrefix string
	Tracer           trace.Tracer
	Now              func() time.Time
}

type Pipeline struct {
	Deps
}

func New(d Deps) *Pipeline {
	if d.Emitter == nil {
		d.Emitter = events.Discard
	}
	if d.Mailer == nil {
		d.Mailer = mail.LogMailer{}
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("docfox/pipeline")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.AutomationPrefix == "" {
		d.AutomationPrefix = "docfox-update-"
	}
	return &Pipeline{Deps: d}
}

// Register binds every stage to its queue.
func (p *Pipeline) Register(r Registrar) {
	r.Register(jobqueue.QueueProcessCommit, p.HandleIntake)
	r.Register(jobqueue.QueueGenerateDocs, p.HandleGenerate)
	r.Register(jobqueue.QueueApplyPatch, p.HandleApply)
	r.Register(jobqueue.QueueSendEmail, p.HandleNotify)
	r.Register(jobqueue.QueueRecomputeCoverage, p.HandleCoverage)
}

// stageRun describes one stage execution for the audit record.
type stageRun struct {
	job            *jobqueue.Job
	jobType        models.JobType
	userID         uint
	repoID         uint
	webhookEventID uint
}

// isFinal reports whether err ends the job for good.
func isFinal(job *jobqueue.Job, err error) bool {
	return jobqueue.IsFatal(err) || job.Attempts >= job.MaxAttempts
}

// track wraps a stage with its Job record and a span. Record keeping never
// fails the stage.
func (p *Pipeline) track(ctx context.Context, run stageRun, fn func(ctx context.Context) (interface{}, error)) error {
	job := run.job
	ctx, span := p.Tracer.Start(ctx, "pipeline."+job.Name, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.queue", job.Queue),
		attribute.Int("job.attempt", job.Attempts),
		attribute.Int64("repo.id", int64(run.repoID)),
	))
	defer span.End()

	started := p.Now().UTC()
	rec := &models.Job{
		JobID:      job.ID,
		JobType:    run.jobType,
		Status:     models.JobStatusProcessing,
		UserID:     run.userID,
		RepoID:     run.repoID,
		Input:      datatypes.JSON(job.Payload),
		RetryCount: max(job.Attempts-1, 0),
		MaxRetries: job.MaxAttempts,
		StartedAt:  &started,
	}
	if run.webhookEventID != 0 {
		id := run.webhookEventID
		rec.WebhookEventID = &id
	}
	if err := p.Jobs.Upsert(ctx, rec); err != nil {
		log.Errorf("[Pipeline] Failed to record job %s: %v", job.ID, err)
	}

	out, err := fn(ctx)
	duration := p.Now().UTC().Sub(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status := models.JobStatusFailed
		if !jobqueue.IsFatal(err) && job.Attempts >= job.MaxAttempts {
			status = models.JobStatusDeadLetter
		}
		if ferr := p.Jobs.Finish(ctx, job.ID, status, nil, err.Error(), duration); ferr != nil {
			log.Errorf("[Pipeline] Failed to finish job record %s: %v", job.ID, ferr)
		}
		return err
	}

	var output datatypes.JSON
	if out != nil {
		raw, merr := json.Marshal(out)
		if merr != nil {
			log.Warnf("[Pipeline] Job %s output not serializable: %v", job.ID, merr)
		} else {
			output = raw
		}
	}
	if ferr := p.Jobs.Finish(ctx, job.ID, models.JobStatusCompleted, output, "", duration); ferr != nil {
		log.Errorf("[Pipeline] Failed to finish job record %s: %v", job.ID, ferr)
	}
	return nil
}

// enqueue hands work to the next queue. A duplicate id means the work is
// already there, which is what a retried stage wants.
func (p *Pipeline) enqueue(ctx context.Context, queue, name string, payload interface{}, id string) (string, error) {
	got, err := p.Queue.Enqueue(ctx, queue, name, payload, jobqueue.EnqueueOptions{ID: id})
	if errors.Is(err, jobqueue.ErrDuplicateJob) {
		log.Debugf("[Pipeline] %s already queued", got)
		return got, nil
	}
	return got, err
}

// reportFailure counts a failed attempt in the success rate. Once the job
// will not run again it also queues the error mail.
func (p *Pipeline) reportFailure(ctx context.Context, job *jobqueue.Job, userID, repoID uint, repoName, stage string, cause error) {
	if err := p.Analytics.RecordOutcome(ctx, userID, false); err != nil {
		log.Warnf("[Pipeline] Failed to record failure for user %d: %v", userID, err)
	}
	if !isFinal(job, cause) {
		return
	}
	_, err := p.enqueue(ctx, jobqueue.QueueSendEmail, JobSendErrorEmail, NotifyPayload{
		UserID:       userID,
		RepoID:       repoID,
		RepoName:     repoName,
		FailedJobID:  job.ID,
		Stage:        stage,
		ErrorMessage: cause.Error(),
	}, JobSendErrorEmail+":"+job.ID)
	if err != nil {
		log.Errorf("[Pipeline] Failed to queue error mail for %s: %v", job.ID, err)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// asFatalIfMissing makes a lookup of a deleted record permanent.
func asFatalIfMissing(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return jobqueue.Fatal(err)
	}
	return err
}
