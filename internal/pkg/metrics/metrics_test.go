package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

func TestObserveJob(t *testing.T) {
	m := New(prometheus.NewRegistry())

	started := time.Now().Add(-2 * time.Second)
	m.observeJob(&jobqueue.Job{Queue: jobqueue.QueueGenerateDocs, Status: jobqueue.JobStatusCompleted, ProcessedAt: &started, UpdatedAt: time.Now()})
	m.observeJob(&jobqueue.Job{Queue: jobqueue.QueueGenerateDocs, Status: jobqueue.JobStatusRetrying, ProcessedAt: &started, UpdatedAt: time.Now()})
	m.observeJob(&jobqueue.Job{Queue: jobqueue.QueueGenerateDocs, Status: jobqueue.JobStatusDeadLetter})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(jobqueue.QueueGenerateDocs, "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(jobqueue.QueueGenerateDocs, "retrying")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(jobqueue.QueueGenerateDocs, "dead-letter")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestWebhook(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Webhook("accepted")
	m.Webhook("accepted")
	m.Webhook("rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhooks.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooks.WithLabelValues("rejected")))
}

type stubLedger struct {
	res *credits.Result
	err error
}

func (s stubLedger) HasSufficientCredits(context.Context, uint, int64) (bool, error) { return true, nil }
func (s stubLedger) IsBelowThreshold(context.Context, uint) (bool, error)           { return false, nil }
func (s stubLedger) Deduct(context.Context, uint, int64, string, string) (*credits.Result, error) {
	return s.res, s.err
}

func TestLedger(t *testing.T) {
	tests := []struct {
		name string
		l    stubLedger
		want float64
	}{
		{"charged", stubLedger{res: &credits.Result{Success: true, Balance: 970}}, 30},
		{"replayed", stubLedger{res: &credits.Result{Success: true, Duplicate: true}}, 0},
		{"refused", stubLedger{err: credits.ErrInsufficientCredits}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(prometheus.NewRegistry())
			_, _ = m.Ledger(tt.l).Deduct(context.Background(), 1, 30, "run", "generate_docs:abc")
			assert.Equal(t, tt.want, testutil.ToFloat64(m.creditsDeducted))
		})
	}
}

type stubStream struct{ sent, dropped int64 }

func (s stubStream) Sent() int64    { return s.sent }
func (s stubStream) Dropped() int64 { return s.dropped }

func TestObserveStream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveStream(reg, stubStream{sent: 7, dropped: 2})

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP docfox_events_dropped_total Progress events dropped because the stream was full.
# TYPE docfox_events_dropped_total counter
docfox_events_dropped_total 2
# HELP docfox_events_published_total Progress events published to the bus.
# TYPE docfox_events_published_total counter
docfox_events_published_total 7
`), "docfox_events_dropped_total", "docfox_events_published_total")
	require.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	app := fiber.New()
	app.Use(m.Middleware("/metrics"))
	app.Get("/metrics", m.Handler())
	app.Get("/api/v1/jobs/:jobId", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Job not found"})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/jobs/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	_, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/api/v1/jobs/:jobId", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/boom", "5xx")))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "docfox_http_requests_total")
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestTotal), "scrapes are not counted")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(401))
	assert.Equal(t, "5xx", statusClass(503))
}
