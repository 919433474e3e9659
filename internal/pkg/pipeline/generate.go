package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
	"github.com/ManuelReschke/DocFox/internal/pkg/docgen"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

// HandleGenerate charges the user and asks the model for patches.
func (p *Pipeline) HandleGenerate(ctx context.Context, job *jobqueue.Job) error {
	in, err := decode[GeneratePayload](job)
	if err != nil {
		log.Errorf("[Pipeline] %s: %v", job.ID, err)
		return err
	}
	run := stageRun{job: job, jobType: models.JobTypeGenerateDocs, userID: in.UserID, repoID: in.RepoID, webhookEventID: in.WebhookEventID}
	return p.track(ctx, run, func(ctx context.Context) (interface{}, error) {
		out, err := p.generate(ctx, job, in)
		if err != nil {
			p.reportFailure(ctx, job, in.UserID, in.RepoID, in.Context.Name, "generate", err)
		}
		return out, err
	})
}

func (p *Pipeline) generate(ctx context.Context, job *jobqueue.Job, in GeneratePayload) (interface{}, error) {
	repo, err := p.Repos.GetByID(ctx, in.RepoID)
	if err != nil {
		return nil, asFatalIfMissing(err)
	}

	msgs := docgen.BuildMessages(docgen.Input{
		Files:         in.Files,
		CommitMessage: in.CommitMessage,
		Context:       in.Context,
		Docs:          in.Docs,
		DocTypes:      repo.Settings.DocTypeList(),
	})
	cost := credits.CalculateCost(repo.Size, int64(len(in.Files)), credits.EstimateTokens(docgen.PromptChars(msgs)))

	ok, err := p.Credits.HasSufficientCredits(ctx, in.UserID, cost)
	if err != nil {
		return nil, fmt.Errorf("check credits: %w", err)
	}
	if !ok {
		log.Warnf("[Pipeline] User %d cannot afford %d credits for %s", in.UserID, cost, shortSHA(in.CommitSHA))
		return nil, jobqueue.Fatal(credits.ErrInsufficientCredits)
	}

	out, err := p.Generator.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("generate documentation: %w", err)
	}

	res, err := p.Credits.Deduct(ctx, in.UserID, cost, "Documentation generation for "+shortSHA(in.CommitSHA), job.ID)
	if errors.Is(err, credits.ErrInsufficientCredits) {
		return nil, jobqueue.Fatal(err)
	}
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}

	if below, err := p.Credits.IsBelowThreshold(ctx, in.UserID); err != nil {
		log.Warnf("[Pipeline] Could not check credit threshold for user %d: %v", in.UserID, err)
	} else if below {
		if _, err := p.enqueue(ctx, jobqueue.QueueSendEmail, JobSendLowCreditsWarning, NotifyPayload{
			UserID:  in.UserID,
			Balance: res.Balance,
		}, JobSendLowCreditsWarning+":"+job.ID); err != nil {
			log.Warnf("[Pipeline] Failed to queue low credits warning for user %d: %v", in.UserID, err)
		}
	}

	score := out.CoverageScore
	p.Emitter.Emit(events.Event{
		Type:          events.AIGenerated,
		RepoID:        in.RepoID,
		JobID:         job.ID,
		CommitSHA:     in.CommitSHA,
		Summary:       out.Summary,
		Files:         out.Files(),
		CoverageScore: &score,
	})

	p.Analytics.Track(ctx, in.UserID, analytics.DocsGenerated, 1)
	if !res.Duplicate {
		p.Analytics.Track(ctx, in.UserID, analytics.CreditsUsed, cost)
	}

	result := map[string]interface{}{
		"summary":       out.Summary,
		"files":         out.Files(),
		"coverageScore": out.CoverageScore,
		"cost":          cost,
		"balance":       res.Balance,
	}

	if len(out.Patches) == 0 {
		log.Infof("[Pipeline] Model proposed no patches for %s of %s", shortSHA(in.CommitSHA), in.Context.Name)
		result["skipped"] = "no patches"
		return result, nil
	}

	applyID := JobApplyPatch + ":" + in.CommitSHA
	if _, err := p.enqueue(ctx, jobqueue.QueueApplyPatch, JobApplyPatch, ApplyPayload{
		RepoID:        in.RepoID,
		UserID:        in.UserID,
		CommitSHA:     in.CommitSHA,
		Branch:        in.Branch,
		Patches:       out.Patches,
		Summary:       out.Summary,
		CoverageScore: out.CoverageScore,
	}, applyID); err != nil {
		return nil, fmt.Errorf("queue apply: %w", err)
	}
	result["applyJobId"] = applyID

	log.Infof("[Pipeline] Generated %d patches for %s of %s (%d credits)", len(out.Patches), shortSHA(in.CommitSHA), in.Context.Name, cost)
	return result, nil
}
