package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
)

const (
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 366
)

type AnalyticsReader interface {
	Range(ctx context.Context, userID uint, days int) ([]models.AnalyticsBucket, error)
}

type AnalyticsController struct {
	analytics AnalyticsReader
}

func NewAnalyticsController(r AnalyticsReader) *AnalyticsController {
	return &AnalyticsController{analytics: r}
}

// HandleGetAnalytics returns the daily buckets of the last ?days days and
// their totals.
func (ac *AnalyticsController) HandleGetAnalytics(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	days := queryInt(c, "days", defaultAnalyticsDays, maxAnalyticsDays)

	buckets, err := ac.analytics.Range(c.UserContext(), userID, days)
	if err != nil {
		log.Errorf("[API] Failed to load analytics of user %d: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch analytics")
	}
	if buckets == nil {
		buckets = []models.AnalyticsBucket{}
	}
	return c.JSON(fiber.Map{
		"summary": analytics.Summarize(days, buckets),
		"daily":   buckets,
	})
}
