package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

// QueueStatter reports the live state of the dispatcher.
type QueueStatter interface {
	Stats(ctx context.Context) (map[string]jobqueue.QueueStats, error)
}

// JobCounter reports persisted job records by status.
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

type QueueController struct {
	queues QueueStatter
	jobs   JobCounter
}

func NewQueueController(queues QueueStatter, jobs JobCounter) *QueueController {
	return &QueueController{queues: queues, jobs: jobs}
}

// HandleGetQueues returns per-queue depth and totals next to the job record
// counts.
func (qc *QueueController) HandleGetQueues(c *fiber.Ctx) error {
	stats, err := qc.queues.Stats(c.UserContext())
	if err != nil {
		log.Errorf("[API] Failed to read queue stats: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch queue stats")
	}
	counts, err := qc.jobs.CountByStatus(c.UserContext())
	if err != nil {
		log.Errorf("[API] Failed to count jobs: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch queue stats")
	}
	return c.JSON(fiber.Map{
		"queues": stats,
		"jobs":   counts,
	})
}
