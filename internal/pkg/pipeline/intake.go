package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/scm"
)

// HandleIntake gathers the diff and context of one commit and queues
// generation.
func (p *Pipeline) HandleIntake(ctx context.Context, job *jobqueue.Job) error {
	in, err := decode[IntakePayload](job)
	if err != nil {
		log.Errorf("[Pipeline] %s: %v", job.ID, err)
		return err
	}
	run := stageRun{job: job, jobType: models.JobTypeProcessCommit, userID: in.UserID, repoID: in.RepoID, webhookEventID: in.WebhookEventID}
	return p.track(ctx, run, func(ctx context.Context) (interface{}, error) {
		out, err := p.intake(ctx, job, in)
		if err != nil {
			p.reportFailure(ctx, job, in.UserID, in.RepoID, "", "intake", err)
			if in.WebhookEventID != 0 && isFinal(job, err) {
				if serr := p.Events.SetError(ctx, in.WebhookEventID, err.Error()); serr != nil {
					log.Warnf("[Pipeline] Failed to store error on webhook event %d: %v", in.WebhookEventID, serr)
				}
			}
		}
		return out, err
	})
}

// loadRepo resolves the repository and a client acting for its user. Both
// missing cases are permanent.
func (p *Pipeline) loadRepo(ctx context.Context, repoID, userID uint) (*models.Repo, scm.Client, error) {
	repo, err := p.Repos.GetByID(ctx, repoID)
	if err != nil {
		return nil, nil, asFatalIfMissing(fmt.Errorf("repository %d: %w", repoID, err))
	}
	if userID == 0 {
		userID = repo.UserID
	}
	client, err := p.SCM.ForUser(ctx, userID)
	if errors.Is(err, scm.ErrNoToken) || errors.Is(err, repository.ErrNotFound) {
		return repo, nil, jobqueue.Fatal(err)
	}
	if err != nil {
		return repo, nil, err
	}
	return repo, client, nil
}

// readDoc returns the file content at ref, or "" when it is missing or
// unreadable.
func readDoc(ctx context.Context, client scm.Client, owner, name, path, ref string) string {
	f, err := client.GetFileContent(ctx, owner, name, path, ref)
	if err != nil {
		if !errors.Is(err, scm.ErrNotFound) {
			log.Warnf("[Pipeline] Could not read %s of %s/%s: %v", path, owner, name, err)
		}
		return ""
	}
	return f.Content
}

func (p *Pipeline) intake(ctx context.Context, job *jobqueue.Job, in IntakePayload) (interface{}, error) {
	repo, client, err := p.loadRepo(ctx, in.RepoID, in.UserID)
	if err != nil {
		return nil, err
	}
	owner, name := repo.OwnerAndName()

	commit, err := client.GetCommit(ctx, owner, name, in.CommitSHA)
	if errors.Is(err, scm.ErrNotFound) {
		return nil, jobqueue.Fatal(err)
	}
	if err != nil {
		return nil, err
	}
	if len(commit.Parents) == 0 {
		return nil, jobqueue.Fatal(ErrNoParentCommit)
	}

	changes, err := client.GetCommitDiff(ctx, owner, name, commit.Parents[0], in.CommitSHA)
	if err != nil {
		return nil, err
	}

	files := make([]FileDiff, 0, len(changes))
	var diffSize int64
	for _, c := range changes {
		if c.Status == scm.FileStatusRemoved {
			continue
		}
		files = append(files, FileDiff{Path: c.Path, Diff: c.Patch, Status: c.Status})
		diffSize += int64(len(c.Patch))
	}

	if len(files) == 0 {
		log.Infof("[Pipeline] Commit %s of %s has no file changes, skipping", shortSHA(in.CommitSHA), repo.FullName)
		p.markEventProcessed(ctx, in.WebhookEventID, job.ID)
		return map[string]string{"skipped": "no file changes"}, nil
	}

	docs := ExistingDocs{
		Readme:    readDoc(ctx, client, owner, name, "README.md", in.CommitSHA),
		Changelog: readDoc(ctx, client, owner, name, "CHANGELOG.md", in.CommitSHA),
	}

	structure, err := client.GetTree(ctx, owner, name, in.CommitSHA)
	if err != nil {
		log.Warnf("[Pipeline] Could not list files of %s: %v", repo.FullName, err)
	}

	genID := JobGenerateDocs + ":" + in.CommitSHA
	if _, err := p.enqueue(ctx, jobqueue.QueueGenerateDocs, JobGenerateDocs, GeneratePayload{
		WebhookEventID: in.WebhookEventID,
		RepoID:         repo.ID,
		UserID:         in.UserID,
		CommitSHA:      in.CommitSHA,
		Branch:         in.Branch,
		CommitMessage:  commit.Message,
		Files:          files,
		Context:        RepoContext{Name: repo.FullName, Language: repo.Language, Structure: structure},
		Docs:           docs,
	}, genID); err != nil {
		return nil, fmt.Errorf("queue generation: %w", err)
	}

	p.Analytics.Track(ctx, in.UserID, analytics.WebhooksReceived, 1)
	if err := p.Analytics.RecordDiffSize(ctx, in.UserID, diffSize); err != nil {
		log.Warnf("[Pipeline] Failed to record diff size for user %d: %v", in.UserID, err)
	}
	p.markEventProcessed(ctx, in.WebhookEventID, job.ID)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	p.Emitter.Emit(events.Event{
		Type:      events.CommitProcessing,
		RepoID:    repo.ID,
		JobID:     job.ID,
		CommitSHA: in.CommitSHA,
		Files:     paths,
	})

	log.Infof("[Pipeline] Commit %s of %s: %d files queued for generation", shortSHA(in.CommitSHA), repo.FullName, len(files))
	return map[string]interface{}{
		"files":         len(files),
		"generateJobId": genID,
	}, nil
}

func (p *Pipeline) markEventProcessed(ctx context.Context, eventID uint, jobID string) {
	if eventID == 0 {
		return
	}
	if err := p.Events.MarkProcessed(ctx, eventID, jobID); err != nil {
		log.Warnf("[Pipeline] Failed to mark webhook event %d processed: %v", eventID, err)
	}
}
