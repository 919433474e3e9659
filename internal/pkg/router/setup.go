// Package router mounts the HTTP surface: the webhook receiver, the event
// stream, the operator endpoints and the versioned query API.
package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/DocFox/app/controllers"
	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/metrics"
	"github.com/ManuelReschke/DocFox/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps is everything the routes need. Storage backs the rate limiters; nil
// keeps their counters in memory.
type Deps struct {
	App     config.App
	Storage fiber.Storage
	Users   middleware.APIKeyLookup
	Metrics *metrics.Metrics
	// OpenAPIFile enables the swagger UI when set.
	OpenAPIFile string

	Webhook   *controllers.WebhookController
	Events    *controllers.EventsController
	Jobs      *controllers.JobController
	Credits   *controllers.CreditsController
	Analytics *controllers.AnalyticsController
	Queues    *controllers.QueueController
	Repos     *controllers.RepoController
	Health    *controllers.HealthController
}

func InstallRouter(app *fiber.App, d Deps) {
	// HttpRouter installs the metrics middleware, so it goes first.
	setup(app, NewHttpRouter(d), NewApiRouter(d))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
