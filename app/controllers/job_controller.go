package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 200
)

type JobController struct {
	jobs  repository.JobRepository
	repos repository.RepoRepository
}

func NewJobController(jobs repository.JobRepository, repos repository.RepoRepository) *JobController {
	return &JobController{jobs: jobs, repos: repos}
}

// owns reports whether userID may see job. Older records without a user
// fall back to the owner of the repository.
func (jc *JobController) owns(c *fiber.Ctx, job *models.Job, userID uint) (bool, error) {
	if job.UserID != 0 {
		return job.UserID == userID, nil
	}
	if job.RepoID == 0 {
		return true, nil
	}
	repo, err := jc.repos.GetByID(c.UserContext(), job.RepoID)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return repo.UserID == userID, nil
}

// HandleGetJob returns one job record by its job id.
func (jc *JobController) HandleGetJob(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	job, err := jc.jobs.GetByJobID(c.UserContext(), c.Params("jobId"))
	if errors.Is(err, repository.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Job not found")
	}
	if err != nil {
		log.Errorf("[API] Failed to get job %s: %v", c.Params("jobId"), err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch job")
	}

	allowed, err := jc.owns(c, job, userID)
	if err != nil {
		log.Errorf("[API] Failed to check ownership of job %s: %v", job.JobID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch job")
	}
	if !allowed {
		return errorJSON(c, fiber.StatusForbidden, "Access denied")
	}
	return c.JSON(fiber.Map{"job": job})
}

// HandleListJobs lists the caller's jobs, newest first.
func (jc *JobController) HandleListJobs(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	filter := repository.JobFilter{
		UserID: userID,
		Status: models.JobStatus(c.Query("status")),
		Limit:  queryInt(c, "limit", defaultJobLimit, maxJobLimit),
	}
	if raw := c.Query("repoId"); raw != "" {
		id := c.QueryInt("repoId", 0)
		if id <= 0 {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid repoId")
		}
		filter.RepoID = uint(id)
	}

	jobs, err := jc.jobs.List(c.UserContext(), filter)
	if err != nil {
		log.Errorf("[API] Failed to list jobs for user %d: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch jobs")
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}
