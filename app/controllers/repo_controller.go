package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/pipeline"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts jobqueue.EnqueueOptions) (string, error)
}

type RepoController struct {
	repos repository.RepoRepository
	queue Enqueuer
}

func NewRepoController(repos repository.RepoRepository, queue Enqueuer) *RepoController {
	return &RepoController{repos: repos, queue: queue}
}

// HandleListRepos lists the caller's connected repositories.
func (rc *RepoController) HandleListRepos(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	repos, err := rc.repos.ListByUser(c.UserContext(), userID)
	if err != nil {
		log.Errorf("[API] Failed to list repositories of user %d: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch repositories")
	}
	if repos == nil {
		repos = []models.Repo{}
	}
	return c.JSON(fiber.Map{"repos": repos})
}

// HandleRecomputeCoverage queues a coverage scan of one repository.
func (rc *RepoController) HandleRecomputeCoverage(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	repoID, ok := paramID(c, "id")
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid repository id")
	}

	repo, err := rc.repos.GetByID(c.UserContext(), repoID)
	if errors.Is(err, repository.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Repository not found")
	}
	if err != nil {
		log.Errorf("[API] Failed to load repository %d: %v", repoID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch repository")
	}
	if repo.UserID != userID {
		return errorJSON(c, fiber.StatusForbidden, "Access denied")
	}

	jobID, err := rc.queue.Enqueue(c.UserContext(), jobqueue.QueueRecomputeCoverage, pipeline.JobRecomputeCoverage,
		pipeline.CoveragePayload{RepoID: repo.ID, UserID: userID}, jobqueue.EnqueueOptions{})
	if err != nil {
		log.Errorf("[API] Failed to queue coverage for %s: %v", repo.FullName, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to queue coverage recompute")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"jobId": jobID})
}
