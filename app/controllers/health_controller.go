package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type HealthController struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthController(checks map[string]Check) *HealthController {
	return &HealthController{checks: checks, timeout: 3 * time.Second}
}

// HandleLive answers as long as the process serves requests.
func (hc *HealthController) HandleLive(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// HandleReady pings every dependency and answers 503 if any is down.
func (hc *HealthController) HandleReady(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), hc.timeout)
	defer cancel()

	ready := true
	results := make(map[string]bool, len(hc.checks))
	for name, check := range hc.checks {
		err := check(ctx)
		results[name] = err == nil
		if err != nil {
			ready = false
			log.Errorf("[Health] %s check failed: %v", name, err)
		}
	}

	status := fiber.StatusOK
	if !ready {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"ready":     ready,
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
