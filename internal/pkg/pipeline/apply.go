package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
	"github.com/ManuelReschke/DocFox/internal/pkg/diffengine"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/mail"
	"github.com/ManuelReschke/DocFox/internal/pkg/scm"
)

const diffPreviewLimit = 500

// SkippedFile is a patch that was not written and why.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// ApplyResult is the stored output of the apply stage.
type ApplyResult struct {
	Files     []string      `json:"files"`
	Skipped   []SkippedFile `json:"skipped,omitempty"`
	CommitSHA string        `json:"commitSha,omitempty"`
	CommitURL string        `json:"commitUrl,omitempty"`
	PRURL     string        `json:"prUrl,omitempty"`
	Branch    string        `json:"branch"`
}

// HandleApply writes the generated patches to the repository.
func (p *Pipeline) HandleApply(ctx context.Context, job *jobqueue.Job) error {
	in, err := decode[ApplyPayload](job)
	if err != nil {
		log.Errorf("[Pipeline] %s: %v", job.ID, err)
		return err
	}
	run := stageRun{job: job, jobType: models.JobTypeApplyPatch, userID: in.UserID, repoID: in.RepoID}
	return p.track(ctx, run, func(ctx context.Context) (interface{}, error) {
		out, err := p.apply(ctx, job, in)
		if err != nil {
			p.reportFailure(ctx, job, in.UserID, in.RepoID, "", "apply", err)
		}
		return out, err
	})
}

type fileWrite struct {
	patch   Patch
	content string
	// sha is the blob being replaced; empty creates the file.
	sha       string
	unchanged bool
}

// resolve turns one patch into the content to write. ref is where the
// current version is read from.
func (p *Pipeline) resolve(ctx context.Context, client scm.Client, owner, name, ref string, patch Patch) (*fileWrite, error) {
	current := ""
	blob := ""
	f, err := client.GetFileContent(ctx, owner, name, patch.File, ref)
	switch {
	case err == nil:
		current, blob = f.Content, f.SHA
	case errors.Is(err, scm.ErrNotFound):
	default:
		return nil, fmt.Errorf("read %s: %w", patch.File, err)
	}

	content := patch.Patch
	if diffengine.IsUnifiedDiff(patch.Patch) {
		if ok, reason := p.Guard.Check(patch.Patch, current); !ok {
			return nil, fmt.Errorf("unsafe patch: %s", reason)
		}
		content = diffengine.ApplyPatch(current, patch.Patch)
	}
	return &fileWrite{patch: patch, content: content, sha: blob, unchanged: blob != "" && content == current}, nil
}

func (p *Pipeline) apply(ctx context.Context, job *jobqueue.Job, in ApplyPayload) (interface{}, error) {
	p.Emitter.Emit(events.Event{
		Type:      events.PatchApplying,
		RepoID:    in.RepoID,
		JobID:     job.ID,
		CommitSHA: in.CommitSHA,
		Files:     patchFiles(in.Patches),
	})

	repo, client, err := p.loadRepo(ctx, in.RepoID, in.UserID)
	if err != nil {
		return nil, err
	}
	owner, name := repo.OwnerAndName()
	target := repo.TargetBranch(in.Branch)
	prMode := repo.Settings.CreatePullRequest

	writeBranch := target
	if prMode {
		writeBranch = p.AutomationPrefix + shortSHA(in.CommitSHA)
		err := client.CreateBranch(ctx, owner, name, writeBranch, target)
		switch {
		case errors.Is(err, scm.ErrBranchExists):
			log.Infof("[Pipeline] Branch %s of %s already exists, reusing it", writeBranch, repo.FullName)
		case err != nil:
			return nil, fmt.Errorf("create branch %s: %w", writeBranch, err)
		}
	}

	result := &ApplyResult{Branch: writeBranch}
	var writes []*fileWrite
	for _, patch := range in.Patches {
		w, err := p.resolve(ctx, client, owner, name, writeBranch, patch)
		if err != nil {
			log.Warnf("[Pipeline] Skipping %s in %s: %v", patch.File, repo.FullName, err)
			result.Skipped = append(result.Skipped, SkippedFile{File: patch.File, Reason: err.Error()})
			continue
		}
		writes = append(writes, w)
	}
	if len(writes) == 0 {
		return nil, jobqueue.Fatal(ErrNoFilesToWrite)
	}

	message := "docs: " + in.Summary
	written := writes[:0]
	var lastErr error
	for _, w := range writes {
		if w.unchanged {
			log.Debugf("[Pipeline] %s of %s already up to date", w.patch.File, repo.FullName)
			written = append(written, w)
			continue
		}
		res, err := client.UpdateFile(ctx, owner, name, scm.FileUpdate{
			Path:    w.patch.File,
			Message: message,
			Content: w.content,
			SHA:     w.sha,
			Branch:  writeBranch,
		})
		if err != nil {
			log.Warnf("[Pipeline] Failed to write %s to %s: %v", w.patch.File, repo.FullName, err)
			result.Skipped = append(result.Skipped, SkippedFile{File: w.patch.File, Reason: err.Error()})
			lastErr = err
			continue
		}
		written = append(written, w)
		result.CommitSHA, result.CommitURL = res.CommitSHA, res.CommitURL
	}
	if len(written) == 0 {
		// Every write failed, which points at the host rather than the patches.
		return nil, fmt.Errorf("write files: %w", lastErr)
	}
	writes = written
	for _, w := range writes {
		result.Files = append(result.Files, w.patch.File)
	}

	if prMode {
		pr, err := client.CreatePullRequest(ctx, owner, name, scm.NewPullRequest{
			Title: message,
			Body:  pullRequestBody(in, writes),
			Head:  writeBranch,
			Base:  target,
		})
		if err != nil {
			return nil, fmt.Errorf("open pull request: %w", err)
		}
		result.PRURL = pr.URL
	}

	score := in.CoverageScore
	p.Emitter.Emit(events.Event{
		Type:          events.PatchWritten,
		RepoID:        repo.ID,
		JobID:         job.ID,
		CommitSHA:     in.CommitSHA,
		Summary:       in.Summary,
		Files:         result.Files,
		CoverageScore: &score,
		CommitURL:     result.CommitURL,
		PRURL:         result.PRURL,
	})

	processed := result.CommitSHA
	if processed == "" {
		processed = in.CommitSHA
	}
	if err := p.Repos.RecordProcessed(ctx, repo.ID, processed, in.Summary, in.CoverageScore, p.Now().UTC()); err != nil {
		log.Errorf("[Pipeline] Failed to record processed commit for %s: %v", repo.FullName, err)
	}

	p.Analytics.Track(ctx, in.UserID, analytics.PatchesApplied, int64(len(result.Files)))
	if prMode {
		p.Analytics.Track(ctx, in.UserID, analytics.PrsCreated, 1)
	} else {
		p.Analytics.Track(ctx, in.UserID, analytics.CommitsPushed, 1)
	}

	if repo.Settings.EmailNotifications {
		url := result.PRURL
		if url == "" {
			url = result.CommitURL
		}
		if _, err := p.enqueue(ctx, jobqueue.QueueSendEmail, JobSendEmail, NotifyPayload{
			UserID:        in.UserID,
			RepoID:        repo.ID,
			RepoName:      repo.FullName,
			CommitSHA:     in.CommitSHA,
			Summary:       in.Summary,
			DiffPreview:   diffPreview(writes),
			Changes:       changes(writes),
			CoverageScore: in.CoverageScore,
			URL:           url,
		}, JobSendEmail+":"+in.CommitSHA); err != nil {
			log.Warnf("[Pipeline] Failed to queue update mail for %s: %v", repo.FullName, err)
		}
	}

	if err := p.Analytics.RecordOutcome(ctx, in.UserID, true); err != nil {
		log.Warnf("[Pipeline] Failed to record success for user %d: %v", in.UserID, err)
	}

	if _, err := p.enqueue(ctx, jobqueue.QueueRecomputeCoverage, JobRecomputeCoverage, CoveragePayload{
		RepoID: repo.ID,
		UserID: in.UserID,
	}, JobRecomputeCoverage+":"+in.CommitSHA); err != nil {
		log.Warnf("[Pipeline] Failed to queue coverage recompute for %s: %v", repo.FullName, err)
	}

	log.Infof("[Pipeline] Wrote %d files to %s@%s (%d skipped)", len(result.Files), repo.FullName, writeBranch, len(result.Skipped))
	return result, nil
}

func patchFiles(patches []Patch) []string {
	out := make([]string, 0, len(patches))
	for _, p := range patches {
		out = append(out, p.File)
	}
	return out
}

// diffPreview joins the written patches and cuts the result for the mail.
func diffPreview(writes []*fileWrite) string {
	parts := make([]string, 0, len(writes))
	for _, w := range writes {
		parts = append(parts, w.patch.Patch)
	}
	preview := strings.Join(parts, "\n\n")
	if r := []rune(preview); len(r) > diffPreviewLimit {
		preview = string(r[:diffPreviewLimit])
	}
	return preview
}

func changes(writes []*fileWrite) []mail.Change {
	out := make([]mail.Change, 0, len(writes))
	for _, w := range writes {
		out = append(out, mail.Change{File: w.patch.File, Reason: w.patch.Reason})
	}
	return out
}

func pullRequestBody(in ApplyPayload, writes []*fileWrite) string {
	var b strings.Builder
	b.WriteString(in.Summary)
	b.WriteString("\n\nGenerated for commit ")
	b.WriteString(in.CommitSHA)
	b.WriteString(".\n\n")
	for _, w := range writes {
		fmt.Fprintf(&b, "- `%s`", w.patch.File)
		if w.patch.Reason != "" {
			b.WriteString(": " + w.patch.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}
