package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGitHub(t *testing.T, mux *http.ServeMux) *GitHub {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	g, err := NewGitHub("token", Options{BaseURL: srv.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return g
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGitHub_GetCommitAndDiff(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]interface{}{
			"sha":      "abc123",
			"html_url": "https://github.com/acme/widgets/commit/abc123",
			"commit": map[string]interface{}{
				"message": "Add lib",
				"author":  map[string]string{"name": "Jane", "email": "jane@acme.io"},
			},
			"parents": []map[string]string{{"sha": "p1"}},
		})
	})
	mux.HandleFunc("/repos/acme/widgets/compare/p1...abc123", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{
			"files": []map[string]interface{}{
				{"filename": "lib.js", "status": "added", "patch": "@@ -0,0 +1 @@\n+x", "additions": 1},
				{"filename": "old.js", "status": "removed", "deletions": 4},
			},
		})
	})
	g := newTestGitHub(t, mux)
	ctx := context.Background()

	c, err := g.GetCommit(ctx, "acme", "widgets", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Add lib", c.Message)
	assert.Equal(t, "Jane", c.AuthorName)
	assert.Equal(t, []string{"p1"}, c.Parents)

	files, err := g.GetCommitDiff(ctx, "acme", "widgets", "p1", "abc123")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, FileChange{Path: "lib.js", Status: "added", Patch: "@@ -0,0 +1 @@\n+x", Additions: 1}, files[0])
	assert.Equal(t, FileStatusRemoved, files[1].Status)
}

func TestGitHub_GetFileContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		writeJSON(w, 200, map[string]string{
			"type":     "file",
			"encoding": "base64",
			"path":     "README.md",
			"sha":      "blob1",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Widgets\n")),
		})
	})
	mux.HandleFunc("/repos/acme/widgets/contents/CHANGELOG.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
	})
	g := newTestGitHub(t, mux)
	ctx := context.Background()

	fc, err := g.GetFileContent(ctx, "acme", "widgets", "README.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "# Widgets\n", fc.Content)
	assert.Equal(t, "blob1", fc.SHA)

	_, err = g.GetFileContent(ctx, "acme", "widgets", "CHANGELOG.md", "main")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGitHub_UpdateFileCreatesOrUpdates(t *testing.T) {
	var bodies []map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		bodies = append(bodies, body)
		writeJSON(w, 200, map[string]interface{}{
			"content": map[string]string{"path": "README.md"},
			"commit":  map[string]string{"sha": "new1", "html_url": "https://github.com/acme/widgets/commit/new1"},
		})
	})
	g := newTestGitHub(t, mux)
	ctx := context.Background()

	res, err := g.UpdateFile(ctx, "acme", "widgets", FileUpdate{Path: "README.md", Message: "docs: x", Content: "hi", Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, "new1", res.CommitSHA)
	assert.Equal(t, "https://github.com/acme/widgets/commit/new1", res.CommitURL)

	_, err = g.UpdateFile(ctx, "acme", "widgets", FileUpdate{Path: "README.md", Message: "docs: y", Content: "hi", SHA: "blob1", Branch: "main"})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Nil(t, bodies[0]["sha"])
	assert.Equal(t, "blob1", bodies[1]["sha"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hi")), bodies[0]["content"])
	assert.Equal(t, "main", bodies[0]["branch"])
}

func TestGitHub_RetriesServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/commits/flaky", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, 502, map[string]string{"message": "bad gateway"})
			return
		}
		writeJSON(w, 200, map[string]interface{}{"sha": "flaky", "commit": map[string]string{"message": "m"}})
	})
	var missing atomic.Int32
	mux.HandleFunc("/repos/acme/widgets/commits/nope", func(w http.ResponseWriter, r *http.Request) {
		missing.Add(1)
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
	})
	g := newTestGitHub(t, mux)
	ctx := context.Background()

	c, err := g.GetCommit(ctx, "acme", "widgets", "flaky")
	require.NoError(t, err)
	assert.Equal(t, "flaky", c.SHA)
	assert.Equal(t, int32(3), calls.Load())

	_, err = g.GetCommit(ctx, "acme", "widgets", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), missing.Load())
}

func TestGitHub_BranchAndPullRequest(t *testing.T) {
	var createdRef map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"ref": "refs/heads/main", "object": map[string]string{"sha": "base1", "type": "commit"}})
	})
	mux.HandleFunc("/repos/acme/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&createdRef)
		writeJSON(w, 201, map[string]interface{}{"ref": createdRef["ref"], "object": map[string]string{"sha": "base1"}})
	})
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "docfox-update-abc1234", body["head"])
		assert.Equal(t, "main", body["base"])
		writeJSON(w, 201, map[string]interface{}{"number": 7, "html_url": "https://github.com/acme/widgets/pull/7"})
	})
	g := newTestGitHub(t, mux)
	ctx := context.Background()

	require.NoError(t, g.CreateBranch(ctx, "acme", "widgets", "docfox-update-abc1234", "main"))
	assert.Equal(t, "refs/heads/docfox-update-abc1234", createdRef["ref"])
	assert.Equal(t, "base1", createdRef["sha"])

	pr, err := g.CreatePullRequest(ctx, "acme", "widgets", NewPullRequest{Title: "docs", Head: "docfox-update-abc1234", Base: "main"})
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", pr.URL)
}

func TestGitHub_WriteAccessHooksAndTree(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"login": "jane"})
	})
	mux.HandleFunc("/repos/acme/widgets/collaborators/jane/permission", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"permission": "write"})
	})
	mux.HandleFunc("/repos/acme/widgets/hooks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		cfg := body["config"].(map[string]interface{})
		assert.Equal(t, "https://docfox.dev/webhooks/github", cfg["url"])
		assert.Equal(t, "s3cret", cfg["secret"])
		writeJSON(w, 201, map[string]interface{}{"id": 99})
	})
	mux.HandleFunc("/repos/acme/widgets/hooks/99", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/repos/acme/widgets/hooks/100", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
	})
	mux.HandleFunc("/repos/acme/widgets/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		writeJSON(w, 200, map[string]interface{}{"sha": "t1", "tree": []map[string]string{
			{"path": "README.md", "type": "blob"},
			{"path": "docs", "type": "tree"},
			{"path": "docs/api.md", "type": "blob"},
		}})
	})
	g := newTestGitHub(t, mux)
	ctx := context.Background()

	ok, err := g.CheckWriteAccess(ctx, "acme", "widgets")
	require.NoError(t, err)
	assert.True(t, ok)

	hook, err := g.CreateWebhook(ctx, "acme", "widgets", "https://docfox.dev/webhooks/github", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, int64(99), hook.ID)

	assert.NoError(t, g.DeleteWebhook(ctx, "acme", "widgets", 99))
	assert.NoError(t, g.DeleteWebhook(ctx, "acme", "widgets", 100))

	paths, err := g.GetTree(ctx, "acme", "widgets", "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "docs/api.md"}, paths)
}

func TestGitHub_CreateBranchExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"ref": "refs/heads/main", "object": map[string]string{"sha": "base1", "type": "commit"}})
	})
	mux.HandleFunc("/repos/acme/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 422, map[string]interface{}{"message": "Reference already exists"})
	})
	g := newTestGitHub(t, mux)

	err := g.CreateBranch(context.Background(), "acme", "widgets", "docfox-update-abc1234", "main")
	assert.ErrorIs(t, err, ErrBranchExists)
}
