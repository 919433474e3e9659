package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

// coverageChecks are the documentation artifacts a repository is scored on.
var coverageChecks = []func(path string) bool{
	func(path string) bool { return path == "README.md" },
	func(path string) bool { return path == "CHANGELOG.md" },
	func(path string) bool { return strings.HasPrefix(path, "docs/") },
	func(path string) bool { return path == "API.md" },
}

// CoverageScore is the share of documentation artifacts present in tree, in
// percent.
func CoverageScore(tree []string) float64 {
	found := 0
	for _, check := range coverageChecks {
		for _, path := range tree {
			if check(path) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(coverageChecks)) * 100
}

// HandleCoverage rescans the default branch and stores the coverage score.
func (p *Pipeline) HandleCoverage(ctx context.Context, job *jobqueue.Job) error {
	in, err := decode[CoveragePayload](job)
	if err != nil {
		log.Errorf("[Pipeline] %s: %v", job.ID, err)
		return err
	}
	run := stageRun{job: job, jobType: models.JobTypeRecomputeCoverage, userID: in.UserID, repoID: in.RepoID}
	return p.track(ctx, run, func(ctx context.Context) (interface{}, error) {
		return p.coverage(ctx, job, in)
	})
}

func (p *Pipeline) coverage(ctx context.Context, job *jobqueue.Job, in CoveragePayload) (interface{}, error) {
	repo, client, err := p.loadRepo(ctx, in.RepoID, in.UserID)
	if err != nil {
		return nil, err
	}
	owner, name := repo.OwnerAndName()
	branch := repo.TargetBranch("")

	tree, err := client.GetTree(ctx, owner, name, branch)
	if err != nil {
		return nil, fmt.Errorf("list %s@%s: %w", repo.FullName, branch, err)
	}

	score := CoverageScore(tree)
	if err := p.Repos.UpdateCoverage(ctx, repo.ID, score); err != nil {
		return nil, fmt.Errorf("store coverage: %w", err)
	}

	p.Emitter.Emit(events.Event{
		Type:          events.CoverageUpdated,
		RepoID:        repo.ID,
		JobID:         job.ID,
		CoverageScore: &score,
	})
	log.Infof("[Pipeline] Coverage of %s is %.0f%%", repo.FullName, score)
	return map[string]float64{"coverageScore": score}, nil
}
