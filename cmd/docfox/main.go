package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/DocFox/app/controllers"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
	"github.com/ManuelReschke/DocFox/internal/pkg/archive"
	"github.com/ManuelReschke/DocFox/internal/pkg/cache"
	"github.com/ManuelReschke/DocFox/internal/pkg/completion"
	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
	"github.com/ManuelReschke/DocFox/internal/pkg/database"
	"github.com/ManuelReschke/DocFox/internal/pkg/diffengine"
	"github.com/ManuelReschke/DocFox/internal/pkg/docgen"
	"github.com/ManuelReschke/DocFox/internal/pkg/env"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/mail"
	"github.com/ManuelReschke/DocFox/internal/pkg/metrics"
	"github.com/ManuelReschke/DocFox/internal/pkg/pipeline"
	"github.com/ManuelReschke/DocFox/internal/pkg/router"
	"github.com/ManuelReschke/DocFox/internal/pkg/scm"
	"github.com/ManuelReschke/DocFox/internal/pkg/security"
	"github.com/ManuelReschke/DocFox/internal/pkg/webhook"
)

const (
	openAPIFile     = "public/docs/v1/openapi.yml"
	shutdownTimeout = 15 * time.Second
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
	if cfg.App.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("[Main] Failed to init tracing: %v", err)
	}

	db, err := database.Open(cfg.Database, cfg.App.IsDev())
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
	rdb, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}

	svc, err := build(ctx, cfg, db, rdb)
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}

	// The stream outlives the workers so their last events are flushed.
	streamCtx, stopStream := context.WithCancel(context.Background())
	streamDone := make(chan struct{})
	go func() {
		svc.stream.Run(streamCtx)
		close(streamDone)
	}()
	svc.manager.Start()

	app := newApp(cfg)
	router.InstallRouter(app, svc.routes)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.App.Port))
	}()
	log.Infof("[Main] %s listening on :%d", cfg.App.Name, cfg.App.Port)

	select {
	case <-ctx.Done():
		log.Info("[Main] Shutting down")
	case err := <-listenErr:
		log.Errorf("[Main] Server stopped: %v", err)
	}

	svc.manager.Stop()
	stopStream()
	<-streamDone
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warnf("[Main] HTTP shutdown: %v", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracing(sctx); err != nil {
		log.Warnf("[Main] Tracing shutdown: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Warnf("[Main] Redis close: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: cfg.App.Name,
		// Push payloads of large merges stay well below this.
		BodyLimit: 25 * 1024 * 1024,
	})
	app.Use(recover.New(), logger.New())
	return app
}

type services struct {
	stream  *events.Stream
	manager *jobqueue.Manager
	routes  router.Deps
}

func build(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*services, error) {
	repos := repository.NewRepositories(db)

	box, err := security.NewSecretBox(cfg.Crypto.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	guard, err := diffengine.NewGuard(cfg.Safety)
	if err != nil {
		return nil, fmt.Errorf("patch guard: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewRedisBus(rdb)
	stream := events.NewStream(bus, 0)
	m.ObserveStream(reg, stream)

	creditsSvc := credits.NewServiceFromDB(db, rdb, credits.Config{
		StartingBalance:  cfg.Credits.StartingBalance,
		WarningThreshold: cfg.Credits.WarningThreshold,
	})
	analyticsSvc := analytics.NewService(db)

	dispatcher := jobqueue.NewDispatcher(rdb, jobqueue.Options{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		SweepInterval:     cfg.Queue.SweepInterval,
		RetentionWindow:   cfg.Queue.RetentionWindow,
		MaxBackoff:        cfg.Queue.MaxBackoff,
	}, jobqueue.DefaultQueues()...)
	m.ObserveDispatcher(dispatcher)

	pipeline.New(pipeline.Deps{
		Queue:            dispatcher,
		Jobs:             repos.Job,
		Repos:            repos.Repo,
		Users:            repos.User,
		Events:           repos.WebhookEvent,
		SCM:              scm.NewUserProvider(repos.User, box, cfg.GitHub),
		Generator:        docgen.NewGenerator(completion.New(cfg.Completion), cfg.Completion.Model),
		Credits:          m.Ledger(creditsSvc),
		Analytics:        analyticsSvc,
		Emitter:          stream,
		Mailer:           mail.New(cfg.SMTP),
		Guard:            guard,
		AutomationPrefix: cfg.Webhook.AutomationPrefix,
	}).Register(dispatcher)

	manager := jobqueue.NewManager(dispatcher)
	if cfg.Credits.MonthlyReset {
		manager.AddTask(creditsSvc.ResetTask())
	}
	if cfg.Archive.Enabled() {
		store, err := archive.NewS3Store(ctx, cfg.Archive, cfg.App.IsDev())
		if err != nil {
			return nil, fmt.Errorf("archive store: %w", err)
		}
		manager.AddTask(archive.NewArchiver(repos.Job, store, cfg.Archive).Task())
	} else {
		log.Info("[Main] Job archive disabled, terminal jobs stay in the database")
	}

	ingestor := webhook.NewIngestor(repos.Repo, repos.WebhookEvent, dispatcher, box, cfg.Webhook)

	openAPI := ""
	if _, err := os.Stat(openAPIFile); err == nil {
		openAPI = openAPIFile
	}

	return &services{
		stream:  stream,
		manager: manager,
		routes: router.Deps{
			App:         cfg.App,
			Storage:     router.NewLimiterStorage(cfg.Cache),
			Users:       repos.User,
			Metrics:     m,
			OpenAPIFile: openAPI,
			Webhook:     controllers.NewWebhookController(ingestor, m.Webhook),
			Events:      controllers.NewEventsController(bus, 0),
			Jobs:        controllers.NewJobController(repos.Job, repos.Repo),
			Credits:     controllers.NewCreditsController(creditsSvc),
			Analytics:   controllers.NewAnalyticsController(analyticsSvc),
			Queues:      controllers.NewQueueController(dispatcher, repos.Job),
			Repos:       controllers.NewRepoController(repos.Repo, dispatcher),
			Health: controllers.NewHealthController(map[string]controllers.Check{
				"database": func(context.Context) error { return database.Ping(db) },
				"redis":    func(ctx context.Context) error { return cache.Ping(ctx, rdb) },
			}),
		},
	}, nil
}
