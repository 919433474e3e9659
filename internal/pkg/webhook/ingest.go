// Package webhook verifies push deliveries and turns the commits that survive
// the feedback-loop filters into intake jobs.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/pipeline"
	"github.com/ManuelReschke/DocFox/internal/pkg/security"
)

// Outcomes label every delivery for logs and metrics.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeFiltered  = "filtered"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts jobqueue.EnqueueOptions) (string, error)
}

// Request is one delivery as read off the wire.
type Request struct {
	Body       []byte
	Signature  string
	DeliveryID string
	Event      string
}

// Result is written back to the sender. Status is only ever 200, 400 or 401.
type Result struct {
	Status    int      `json:"-"`
	Outcome   string   `json:"-"`
	Message   string   `json:"message"`
	Reason    string   `json:"reason,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	EventID   uint     `json:"eventId,omitempty"`
	JobIDs    []string `json:"jobIds,omitempty"`
}

type Ingestor struct {
	repos  repository.RepoRepository
	events repository.WebhookEventRepository
	queue  Enqueuer
	box    *security.SecretBox
	cfg    config.Webhook
	filter Filter
}

func NewIngestor(repos repository.RepoRepository, events repository.WebhookEventRepository, queue Enqueuer, box *security.SecretBox, cfg config.Webhook) *Ingestor {
	return &Ingestor{
		repos:  repos,
		events: events,
		queue:  queue,
		box:    box,
		cfg:    cfg,
		filter: Filter{
			AutomationPrefix: cfg.AutomationPrefix,
			ProductName:      cfg.ProductName,
			Markers:          cfg.AutoGeneratedMarkers,
		},
	}
}

func reject(status int, msg string) Result {
	return Result{Status: status, Outcome: OutcomeRejected, Message: msg}
}

func filtered(reason string) Result {
	return Result{Status: http.StatusOK, Outcome: OutcomeFiltered, Message: "ignored", Reason: reason}
}

// internalError still acknowledges the delivery so the sender does not retry.
func internalError() Result {
	return Result{Status: http.StatusOK, Outcome: OutcomeError, Message: "accepted"}
}

// Ingest verifies, records and filters one delivery and enqueues an intake
// job per surviving commit.
func (i *Ingestor) Ingest(ctx context.Context, req Request) Result {
	if req.Signature == "" || req.DeliveryID == "" || req.Event == "" {
		return reject(http.StatusBadRequest, "missing webhook headers")
	}

	fullName, err := repositoryName(req.Body)
	if err != nil {
		return reject(http.StatusBadRequest, err.Error())
	}

	repo, err := i.repos.GetByFullName(ctx, fullName)
	if errors.Is(err, repository.ErrNotFound) {
		log.Infof("[Webhook] Delivery %s for unknown repository %s ignored", req.DeliveryID, fullName)
		return filtered(ReasonNotConnected)
	}
	if err != nil {
		log.Errorf("[Webhook] Failed to load repository %s: %v", fullName, err)
		return internalError()
	}

	secret, err := i.secretFor(repo)
	if err != nil {
		log.Errorf("[Webhook] Failed to decrypt secret for %s: %v", fullName, err)
		return internalError()
	}
	if !VerifySignature(req.Body, req.Signature, secret) {
		log.Warnf("[Webhook] Invalid signature for %s (delivery %s)", fullName, req.DeliveryID)
		return reject(http.StatusUnauthorized, "invalid signature")
	}

	if !repo.IsActive {
		return filtered(ReasonInactive)
	}
	if !repo.Settings.AutoUpdate {
		return filtered(ReasonAutoUpdateOff)
	}

	var push *PushPayload
	if req.Event == models.WebhookEventPush {
		if push, err = ParsePush(req.Body); err != nil {
			return reject(http.StatusBadRequest, err.Error())
		}
	}

	ev := &models.WebhookEvent{
		RepoID:     repo.ID,
		DeliveryID: req.DeliveryID,
		EventType:  req.Event,
		Payload:    datatypes.JSON(req.Body),
		Signature:  req.Signature,
	}
	created, err := i.events.CreateIfNotExists(ctx, ev)
	if err != nil {
		log.Errorf("[Webhook] Failed to store delivery %s: %v", req.DeliveryID, err)
		return internalError()
	}
	if !created {
		log.Infof("[Webhook] Duplicate delivery %s for %s", req.DeliveryID, fullName)
		return Result{Status: http.StatusOK, Outcome: OutcomeDuplicate, Message: "duplicate delivery", Duplicate: true}
	}

	if push == nil {
		i.markDone(ctx, ev.ID, "")
		res := filtered(ReasonUnsupportedEvent)
		res.EventID = ev.ID
		return res
	}

	commits, reason := i.filter.Select(repo, push)
	if reason != "" {
		log.Infof("[Webhook] Delivery %s for %s ignored: %s", req.DeliveryID, fullName, reason)
		i.markDone(ctx, ev.ID, "")
		res := filtered(reason)
		res.EventID = ev.ID
		return res
	}

	res := Result{Status: http.StatusOK, Outcome: OutcomeAccepted, Message: "accepted", EventID: ev.ID}
	for _, c := range commits {
		id, err := i.queue.Enqueue(ctx, jobqueue.QueueProcessCommit, pipeline.JobProcessCommit, pipeline.IntakePayload{
			WebhookEventID: ev.ID,
			RepoID:         repo.ID,
			UserID:         repo.UserID,
			CommitSHA:      c.ID,
			Branch:         push.Branch(),
		}, jobqueue.EnqueueOptions{ID: c.ID})
		switch {
		case errors.Is(err, jobqueue.ErrDuplicateJob):
			log.Infof("[Webhook] Commit %s already queued or processed", c.ID)
			continue
		case err != nil:
			log.Errorf("[Webhook] Failed to enqueue commit %s: %v", c.ID, err)
			if serr := i.events.SetError(ctx, ev.ID, err.Error()); serr != nil {
				log.Warnf("[Webhook] Failed to record error on event %d: %v", ev.ID, serr)
			}
			res.Outcome = OutcomeError
			continue
		}
		res.JobIDs = append(res.JobIDs, id)
	}

	if n := len(res.JobIDs); n > 0 {
		if err := i.events.SetJobID(ctx, ev.ID, res.JobIDs[n-1]); err != nil {
			log.Warnf("[Webhook] Failed to store job id on event %d: %v", ev.ID, err)
		}
		log.Infof("[Webhook] Delivery %s for %s started %d run(s)", req.DeliveryID, fullName, n)
	} else if res.Outcome == OutcomeAccepted {
		res.Outcome = OutcomeDuplicate
		i.markDone(ctx, ev.ID, "")
	}
	return res
}

// secretFor prefers the per-repository secret and falls back to the global
// one for repositories connected before secrets were per repo.
func (i *Ingestor) secretFor(repo *models.Repo) (string, error) {
	if repo.WebhookSecretEnc != "" && i.box != nil {
		return i.box.Decrypt(repo.WebhookSecretEnc)
	}
	return i.cfg.GlobalSecret, nil
}

func (i *Ingestor) markDone(ctx context.Context, id uint, jobID string) {
	if err := i.events.MarkProcessed(ctx, id, jobID); err != nil {
		log.Warnf("[Webhook] Failed to mark event %d processed: %v", id, err)
	}
}
