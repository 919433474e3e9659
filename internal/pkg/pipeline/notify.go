package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/mail"
)

// NotifyResult is the stored output of a notify job.
type NotifyResult struct {
	Delivered bool   `json:"delivered"`
	Skipped   string `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleNotify sends one of the three notification mails. Delivery problems
// never fail the job.
func (p *Pipeline) HandleNotify(ctx context.Context, job *jobqueue.Job) error {
	in, err := decode[NotifyPayload](job)
	if err != nil {
		log.Errorf("[Pipeline] %s: %v", job.ID, err)
		return err
	}
	run := stageRun{job: job, jobType: models.JobTypeSendEmail, userID: in.UserID, repoID: in.RepoID}
	return p.track(ctx, run, func(ctx context.Context) (interface{}, error) {
		return p.notify(ctx, job, in)
	})
}

func (p *Pipeline) notify(ctx context.Context, job *jobqueue.Job, in NotifyPayload) (interface{}, error) {
	user, err := p.Users.GetByID(ctx, in.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return NotifyResult{Skipped: "user not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Email == "" {
		log.Debugf("[Pipeline] User %d has no email address, not sending %s", in.UserID, job.Name)
		return NotifyResult{Skipped: "no email address"}, nil
	}

	repoName := in.RepoName
	if repoName == "" && in.RepoID != 0 {
		if repo, err := p.Repos.GetByID(ctx, in.RepoID); err == nil {
			repoName = repo.FullName
		}
	}

	switch job.Name {
	case JobSendEmail:
		err = p.Mailer.SendDocUpdateEmail(ctx, mail.DocUpdate{
			To:            user.Email,
			RepoName:      repoName,
			Summary:       in.Summary,
			DiffPreview:   in.DiffPreview,
			CoverageScore: in.CoverageScore,
			Changes:       in.Changes,
			URL:           in.URL,
			JobID:         JobApplyPatch + ":" + in.CommitSHA,
		})
	case JobSendErrorEmail:
		err = p.Mailer.SendErrorNotification(ctx, user.Email, repoName, in.ErrorMessage, in.FailedJobID)
	case JobSendLowCreditsWarning:
		err = p.Mailer.SendLowCreditsWarning(ctx, user.Email, in.Balance)
	default:
		return nil, jobqueue.Fatal(fmt.Errorf("unknown notification %q", job.Name))
	}

	if err != nil {
		log.Errorf("[Pipeline] Failed to deliver %s to user %d: %v", job.Name, in.UserID, err)
		return NotifyResult{Delivered: false, Error: err.Error()}, nil
	}
	return NotifyResult{Delivered: true}, nil
}
