// Package metrics holds the Prometheus collectors of the service and the
// hooks that feed them.
package metrics

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

const namespace = "docfox"

type Metrics struct {
	reg prometheus.Gatherer

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	webhooks        *prometheus.CounterVec
	creditsDeducted prometheus.Counter

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector on reg. Passing a fresh registry per test
// keeps registrations from colliding.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Finished job attempts by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Handler run time per attempt.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"queue"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Webhook deliveries by outcome.",
			},
			[]string{"outcome"},
		),
		creditsDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "deducted_total",
			Help:      "Credits charged for documentation runs.",
		}),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status class.",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.webhooks,
		m.creditsDeducted,
		m.requestTotal,
		m.requestDuration,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
}

// ObserveDispatcher counts every finished attempt. Retried attempts carry
// the "retrying" outcome.
func (m *Metrics) ObserveDispatcher(d *jobqueue.Dispatcher) {
	d.OnCompleted(func(job *jobqueue.Job) {
		m.observeJob(job)
	})
	d.OnFailed(func(job *jobqueue.Job, _ error) {
		m.observeJob(job)
	})
}

func (m *Metrics) observeJob(job *jobqueue.Job) {
	m.jobsTotal.WithLabelValues(job.Queue, string(job.Status)).Inc()
	if job.ProcessedAt != nil {
		m.jobDuration.WithLabelValues(job.Queue).Observe(job.UpdatedAt.Sub(*job.ProcessedAt).Seconds())
	}
}

// Webhook counts one delivery.
func (m *Metrics) Webhook(outcome string) {
	m.webhooks.WithLabelValues(outcome).Inc()
}

// StreamCounters is what the event stream exposes about itself.
type StreamCounters interface {
	Sent() int64
	Dropped() int64
}

// ObserveStream exports the event stream's counters.
func (m *Metrics) ObserveStream(reg prometheus.Registerer, s StreamCounters) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Progress events published to the bus.",
		}, func() float64 { return float64(s.Sent()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Progress events dropped because the stream was full.",
		}, func() float64 { return float64(s.Dropped()) }),
	)
}

// Ledger is the part of the credit service the pipeline charges through.
type Ledger interface {
	HasSufficientCredits(ctx context.Context, userID uint, amount int64) (bool, error)
	Deduct(ctx context.Context, userID uint, amount int64, reason, jobID string) (*credits.Result, error)
	IsBelowThreshold(ctx context.Context, userID uint) (bool, error)
}

type meteredLedger struct {
	Ledger
	m *Metrics
}

// Ledger counts the credits actually charged through l. Replayed debits of
// the same job are not counted again.
func (m *Metrics) Ledger(l Ledger) Ledger {
	return &meteredLedger{Ledger: l, m: m}
}

func (l *meteredLedger) Deduct(ctx context.Context, userID uint, amount int64, reason, jobID string) (*credits.Result, error) {
	res, err := l.Ledger.Deduct(ctx, userID, amount, reason, jobID)
	if err == nil && res != nil && res.Success && !res.Duplicate {
		l.m.creditsDeducted.Add(float64(amount))
	}
	return res, err
}

// Middleware records every request except scrapes of metricsPath.
func (m *Metrics) Middleware(metricsPath string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == metricsPath {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := routeLabel(c)
		m.requestTotal.WithLabelValues(c.Method(), route, statusClass(status)).Inc()
		m.requestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// routeLabel uses the matched route pattern so ids do not explode the
// label set.
func routeLabel(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
		return r.Path
	}
	if c.Path() == "/" {
		return "/"
	}
	return "unmatched"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
