package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/analytics"
	"github.com/ManuelReschke/DocFox/internal/pkg/credits"
	"github.com/ManuelReschke/DocFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/DocFox/internal/pkg/events"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/pipeline"
	"github.com/ManuelReschke/DocFox/internal/pkg/usercontext"
	"github.com/ManuelReschke/DocFox/internal/pkg/webhook"
)

// asUser stands in for the API key middleware.
func asUser(id uint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id != 0 {
			usercontext.Set(c, usercontext.UserContext{UserID: id, IsLoggedIn: true})
		}
		return c.Next()
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type stubIngestor struct {
	got webhook.Request
	res webhook.Result
}

func (s *stubIngestor) Ingest(_ context.Context, req webhook.Request) webhook.Result {
	s.got = req
	return s.res
}

func TestWebhookController(t *testing.T) {
	tests := []struct {
		name string
		res  webhook.Result
		want int
	}{
		{"accepted", webhook.Result{Status: 200, Outcome: webhook.OutcomeAccepted, Message: "accepted", JobIDs: []string{"abc"}}, 200},
		{"bad request", webhook.Result{Status: 400, Outcome: webhook.OutcomeRejected, Message: "missing webhook headers"}, 400},
		{"bad signature", webhook.Result{Status: 401, Outcome: webhook.OutcomeRejected, Message: "invalid signature"}, 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &stubIngestor{res: tt.res}
			var outcomes []string
			wc := NewWebhookController(ing, func(o string) { outcomes = append(outcomes, o) })

			app := fiber.New()
			app.Post("/webhooks/github", wc.HandleGitHub)

			body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
			req := httptest.NewRequest("POST", "/webhooks/github", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Hub-Signature-256", "sha256=00")
			req.Header.Set("X-GitHub-Delivery", "d-1")
			req.Header.Set("X-GitHub-Event", "push")

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, body, ing.got.Body)
			assert.Equal(t, "sha256=00", ing.got.Signature)
			assert.Equal(t, "d-1", ing.got.DeliveryID)
			assert.Equal(t, "push", ing.got.Event)
			assert.Equal(t, []string{tt.res.Outcome}, outcomes)

			out := decodeBody(t, resp)
			if tt.want == 200 {
				assert.Equal(t, "accepted", out["message"])
				assert.Equal(t, []interface{}{"abc"}, out["jobIds"])
			} else {
				assert.Equal(t, tt.res.Message, out["error"])
			}
		})
	}
}

type stubBus struct {
	msgs     chan events.Message
	err      error
	channel  string
	unsubbed chan struct{}
}

func (b *stubBus) Publish(context.Context, string, []byte) error { return nil }

func (b *stubBus) Subscribe(_ context.Context, channel string) (<-chan events.Message, func(), error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	b.channel = channel
	return b.msgs, func() { close(b.unsubbed) }, nil
}

func TestEventsController_Stream(t *testing.T) {
	bus := &stubBus{msgs: make(chan events.Message, 1), unsubbed: make(chan struct{})}
	bus.msgs <- events.Message{Channel: "events:42", Payload: `{"type":"patch:written","repoId":42}`}
	close(bus.msgs)

	app := fiber.New()
	app.Get("/events/:repoId", NewEventsController(bus, time.Hour).HandleStream)

	resp, err := app.Test(httptest.NewRequest("GET", "/events/42", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "event: message\ndata: {\"type\":\"patch:written\",\"repoId\":42}\n\n", string(body))
	assert.Equal(t, "events:42", bus.channel)

	select {
	case <-bus.unsubbed:
	case <-time.After(time.Second):
		t.Fatal("subscription was not released")
	}
}

func TestEventsController_KeepAlive(t *testing.T) {
	bus := &stubBus{msgs: make(chan events.Message), unsubbed: make(chan struct{})}
	go func() {
		time.Sleep(60 * time.Millisecond)
		close(bus.msgs)
	}()

	app := fiber.New()
	app.Get("/events/:repoId", NewEventsController(bus, 10*time.Millisecond).HandleStream)

	resp, err := app.Test(httptest.NewRequest("GET", "/events/7", nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), ": ping\n\n")
}

func TestEventsController_Errors(t *testing.T) {
	app := fiber.New()
	app.Get("/events/:repoId", NewEventsController(&stubBus{err: errors.New("redis down")}, 0).HandleStream)

	resp, err := app.Test(httptest.NewRequest("GET", "/events/7", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/events/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

type jobFixture struct {
	repos *repository.Repositories
	mine  *models.Repo
}

func newJobFixture(t *testing.T) jobFixture {
	t.Helper()
	ctx := context.Background()
	repos := repository.NewRepositories(dbtest.New(t))

	mine := &models.Repo{UserID: 1, Name: "widgets", FullName: "acme/widgets", Owner: "acme", IsActive: true, Settings: models.DefaultRepoSettings()}
	other := &models.Repo{UserID: 2, Name: "gadgets", FullName: "evil/gadgets", Owner: "evil", IsActive: true, Settings: models.DefaultRepoSettings()}
	require.NoError(t, repos.Repo.Create(ctx, mine))
	require.NoError(t, repos.Repo.Create(ctx, other))

	for _, j := range []*models.Job{
		{JobID: "abc1234", JobType: models.JobTypeProcessCommit, Status: models.JobStatusCompleted, UserID: 1, RepoID: mine.ID},
		{JobID: "generate_docs:abc1234", JobType: models.JobTypeGenerateDocs, Status: models.JobStatusFailed, UserID: 1, RepoID: mine.ID},
		{JobID: "def5678", JobType: models.JobTypeProcessCommit, Status: models.JobStatusCompleted, UserID: 2, RepoID: other.ID},
		{JobID: "legacy", JobType: models.JobTypeApplyPatch, Status: models.JobStatusCompleted, RepoID: other.ID},
	} {
		require.NoError(t, repos.Job.Upsert(ctx, j))
	}
	return jobFixture{repos: repos, mine: mine}
}

func TestJobController_Get(t *testing.T) {
	fx := newJobFixture(t)
	jc := NewJobController(fx.repos.Job, fx.repos.Repo)

	tests := []struct {
		name  string
		user  uint
		jobID string
		want  int
	}{
		{"own job", 1, "abc1234", 200},
		{"missing", 1, "nope", 404},
		{"someone else's", 1, "def5678", 403},
		{"repo owner decides without user", 1, "legacy", 403},
		{"anonymous", 0, "abc1234", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/api/v1/jobs/:jobId", asUser(tt.user), jc.HandleGetJob)
			resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/jobs/"+tt.jobID, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == 200 {
				job := decodeBody(t, resp)["job"].(map[string]interface{})
				assert.Equal(t, tt.jobID, job["job_id"])
			}
		})
	}
}

func TestJobController_List(t *testing.T) {
	fx := newJobFixture(t)
	app := fiber.New()
	app.Get("/api/v1/jobs", asUser(1), NewJobController(fx.repos.Job, fx.repos.Repo).HandleListJobs)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/jobs", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, decodeBody(t, resp)["jobs"], 2)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/jobs?status=failed&limit=500", nil))
	require.NoError(t, err)
	jobs := decodeBody(t, resp)["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	assert.Equal(t, "generate_docs:abc1234", jobs[0].(map[string]interface{})["job_id"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/jobs?repoId=x", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestCreditsController(t *testing.T) {
	svc := credits.NewService(credits.NewRepository(dbtest.New(t)), nil, credits.Config{})
	cc := NewCreditsController(svc)

	app := fiber.New()
	api := app.Group("/api/v1", asUser(1))
	api.Get("/credits", cc.HandleGetCredits)
	api.Post("/credits/add", cc.HandleAddCredits)
	api.Get("/credits/transactions", cc.HandleListTransactions)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/credits", nil))
	require.NoError(t, err)
	out := decodeBody(t, resp)
	assert.Equal(t, float64(1000), out["balance"])
	assert.Equal(t, false, out["isBelowThreshold"])

	add := func(body string) *http.Response {
		req := httptest.NewRequest("POST", "/api/v1/credits/add", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}
	assert.Equal(t, 400, add(`{"amount":0}`).StatusCode)
	assert.Equal(t, 400, add(`{"amount":-5}`).StatusCode)
	resp = add(`{"amount":250,"reason":"top-up"}`)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(1250), decodeBody(t, resp)["balance"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/credits/transactions", nil))
	require.NoError(t, err)
	txs := decodeBody(t, resp)["transactions"].([]interface{})
	require.NotEmpty(t, txs)
	assert.Equal(t, float64(250), txs[0].(map[string]interface{})["amount"])
}

func TestAnalyticsController(t *testing.T) {
	ctx := context.Background()
	svc := analytics.NewService(dbtest.New(t))
	svc.Track(ctx, 1, analytics.DocsGenerated, 2)
	require.NoError(t, svc.RecordOutcome(ctx, 1, true))

	app := fiber.New()
	app.Get("/api/v1/analytics", asUser(1), NewAnalyticsController(svc).HandleGetAnalytics)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/analytics?days=7", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	out := decodeBody(t, resp)
	summary := out["summary"].(map[string]interface{})
	assert.Equal(t, float64(7), summary["days"])
	assert.Equal(t, float64(2), summary["docs_generated"])
	assert.Len(t, out["daily"], 1)
}

type stubStats struct{}

func (stubStats) Stats(context.Context) (map[string]jobqueue.QueueStats, error) {
	return map[string]jobqueue.QueueStats{jobqueue.QueueApplyPatch: {Pending: 3}}, nil
}

func TestQueueController(t *testing.T) {
	fx := newJobFixture(t)
	app := fiber.New()
	app.Get("/api/v1/queues", asUser(1), NewQueueController(stubStats{}, fx.repos.Job).HandleGetQueues)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/queues", nil))
	require.NoError(t, err)
	out := decodeBody(t, resp)
	queues := out["queues"].(map[string]interface{})
	assert.Equal(t, float64(3), queues[jobqueue.QueueApplyPatch].(map[string]interface{})["pending"])
	assert.Equal(t, float64(3), out["jobs"].(map[string]interface{})["completed"])
}

type recordingQueue struct {
	queue   string
	name    string
	payload interface{}
}

func (q *recordingQueue) Enqueue(_ context.Context, queue, name string, payload interface{}, _ jobqueue.EnqueueOptions) (string, error) {
	q.queue, q.name, q.payload = queue, name, payload
	return "job-1", nil
}

func TestRepoController(t *testing.T) {
	fx := newJobFixture(t)
	q := &recordingQueue{}
	rc := NewRepoController(fx.repos.Repo, q)

	app := fiber.New()
	api := app.Group("/api/v1", asUser(1))
	api.Get("/repos", rc.HandleListRepos)
	api.Post("/repos/:id/coverage", rc.HandleRecomputeCoverage)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/repos", nil))
	require.NoError(t, err)
	assert.Len(t, decodeBody(t, resp)["repos"], 1)

	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/repos/"+strconv.FormatUint(uint64(fx.mine.ID), 10)+"/coverage", nil))
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	assert.Equal(t, "job-1", decodeBody(t, resp)["jobId"])
	assert.Equal(t, jobqueue.QueueRecomputeCoverage, q.queue)
	assert.Equal(t, pipeline.JobRecomputeCoverage, q.name)
	assert.Equal(t, pipeline.CoveragePayload{RepoID: fx.mine.ID, UserID: 1}, q.payload)

	for path, want := range map[string]int{
		"/api/v1/repos/999/coverage": 404,
		"/api/v1/repos/2/coverage":   403,
		"/api/v1/repos/x/coverage":   400,
	} {
		resp, err := app.Test(httptest.NewRequest("POST", path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestHealthController(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("refused") }

	tests := []struct {
		name   string
		checks map[string]Check
		want   int
	}{
		{"all up", map[string]Check{"database": ok, "redis": ok}, 200},
		{"redis down", map[string]Check{"database": ok, "redis": down}, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthController(tt.checks)
			app := fiber.New()
			app.Get("/health", hc.HandleReady)
			app.Get("/health/live", hc.HandleLive)

			resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			out := decodeBody(t, resp)
			assert.Equal(t, tt.want == 200, out["ready"])

			resp, err = app.Test(httptest.NewRequest("GET", "/health/live", nil))
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
		})
	}
}
