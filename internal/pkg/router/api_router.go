package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/DocFox/internal/pkg/middleware"
)

type ApiRouter struct {
	d Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", newLimiter(h.d.Storage, h.d.App.RateLimitPerMinute))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware(h.d.Users))

	v1.Get("/jobs", h.d.Jobs.HandleListJobs)
	v1.Get("/jobs/:jobId", h.d.Jobs.HandleGetJob)

	v1.Get("/credits", h.d.Credits.HandleGetCredits)
	v1.Post("/credits/add", h.d.Credits.HandleAddCredits)
	v1.Get("/credits/transactions", h.d.Credits.HandleListTransactions)

	v1.Get("/analytics", h.d.Analytics.HandleGetAnalytics)
	v1.Get("/queues", h.d.Queues.HandleGetQueues)

	v1.Get("/repos", h.d.Repos.HandleListRepos)
	v1.Post("/repos/:id/coverage", h.d.Repos.HandleRecomputeCoverage)
}

func NewApiRouter(d Deps) *ApiRouter {
	return &ApiRouter{d: d}
}
