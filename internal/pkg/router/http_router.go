package router

import (
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/DocFox/internal/pkg/middleware"
)

const metricsPath = "/metrics"

type HttpRouter struct {
	d Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	if h.d.Metrics != nil {
		app.Use(h.d.Metrics.Middleware(metricsPath))
		app.Get(metricsPath, h.d.Metrics.Handler())
	}

	app.Get("/health", h.d.Health.HandleReady)
	app.Get("/health/live", h.d.Health.HandleLive)

	app.Get("/monitor", middleware.MonitorAuth(h.d.App.MonitorUser, h.d.App.MonitorPasswordHash), monitor.New(monitor.Config{
		Title: "DocFox Monitor",
	}))

	if h.d.OpenAPIFile != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: h.d.OpenAPIFile,
			Path:     "v1",
		}))
	}

	hooks := app.Group("/webhooks", newLimiter(h.d.Storage, h.d.App.RateLimitPerMinute*10))
	hooks.Post("/github", h.d.Webhook.HandleGitHub)

	// EventSource cannot send headers, so the stream is not behind the API key.
	app.Get("/events/:repoId", h.d.Events.HandleStream)
}

func NewHttpRouter(d Deps) *HttpRouter {
	return &HttpRouter{d: d}
}
