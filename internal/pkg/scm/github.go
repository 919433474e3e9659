package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/go-github/v68/github"

	"github.com/ManuelReschke/DocFox/internal/pkg/resilience"
)

// GitHub implements Client with go-github. Reads are retried on transient
// failures; every call goes through the rate limiter and the breaker.
type GitHub struct {
	gh      *github.Client
	breaker resilience.Breaker
	limiter *resilience.RateLimiter
	retry   resilience.RetryPolicy
}

type Options struct {
	// BaseURL points at a GitHub Enterprise API root; empty is github.com.
	BaseURL    string
	HTTPClient *http.Client
	// RequestsPerMinute caps calls per client; 0 disables the cap.
	RequestsPerMinute int
	MaxRetries        int
	RetryDelay        time.Duration
	Breaker           resilience.Breaker
}

func NewGitHub(token string, opts Options) (*GitHub, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	gh := github.NewClient(httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		gh.BaseURL = u
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NoopBreaker()
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	return &GitHub{
		gh:      gh,
		breaker: breaker,
		limiter: resilience.NewRateLimiter(opts.RequestsPerMinute, 5),
		retry: resilience.RetryPolicy{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.RetryDelay,
			Retryable:  isTransient,
		},
	}, nil
}

// NewBreaker is the breaker shared by all GitHub clients of the process.
func NewBreaker() resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "github",
		FailureThreshold: 10,
		MinRequests:      20,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		Ignore:           isClientError,
	})
}

func statusOf(err error) int {
	var ge *github.ErrorResponse
	if errors.As(err, &ge) && ge.Response != nil {
		return ge.Response.StatusCode
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return http.StatusForbidden
	}
	return 0
}

// mapError turns a 404 into ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if statusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func isClientError(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	s := statusOf(err)
	return s >= 400 && s < 500 && s != http.StatusTooManyRequests
}

func isTransient(err error) bool {
	if resilience.IsOpen(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !isClientError(err)
}

// read runs an idempotent call with retries.
func (g *GitHub) read(ctx context.Context, fn func() error) error {
	return g.retry.Do(ctx, func() error {
		return g.call(ctx, fn)
	})
}

// call runs a call once.
func (g *GitHub) call(ctx context.Context, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return g.breaker.Execute(func() error {
		return mapError(fn())
	})
}

func (g *GitHub) GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	var rc *github.RepositoryCommit
	err := g.read(ctx, func() error {
		var err error
		rc, _, err = g.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}

	c := &Commit{
		SHA:     rc.GetSHA(),
		Message: rc.GetCommit().GetMessage(),
		URL:     rc.GetHTMLURL(),
	}
	if a := rc.GetCommit().GetAuthor(); a != nil {
		c.AuthorName = a.GetName()
		c.AuthorEmail = a.GetEmail()
	}
	for _, p := range rc.Parents {
		c.Parents = append(c.Parents, p.GetSHA())
	}
	return c, nil
}

func (g *GitHub) GetCommitDiff(ctx context.Context, owner, repo, base, head string) ([]FileChange, error) {
	var cmp *github.CommitsComparison
	err := g.read(ctx, func() error {
		var err error
		cmp, _, err = g.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("compare %s...%s: %w", base, head, err)
	}

	files := make([]FileChange, 0, len(cmp.Files))
	for _, f := range cmp.Files {
		files = append(files, FileChange{
			Path:      f.GetFilename(),
			Status:    f.GetStatus(),
			Patch:     f.GetPatch(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}
	return files, nil
}

func (g *GitHub) GetFileContent(ctx context.Context, owner, repo, path, ref string) (*FileContent, error) {
	var fc *github.RepositoryContent
	err := g.read(ctx, func() error {
		var err error
		fc, _, _, err = g.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
		return err
	})
	if err != nil {
		return nil, err
	}
	if fc == nil || fc.GetType() != "file" {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &FileContent{Path: fc.GetPath(), Content: content, SHA: fc.GetSHA()}, nil
}

func (g *GitHub) UpdateFile(ctx context.Context, owner, repo string, f FileUpdate) (*WriteResult, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(f.Message),
		Content: []byte(f.Content),
	}
	if f.Branch != "" {
		opts.Branch = github.Ptr(f.Branch)
	}
	if f.SHA != "" {
		opts.SHA = github.Ptr(f.SHA)
	}

	var res *github.RepositoryContentResponse
	err := g.call(ctx, func() error {
		var err error
		if f.SHA != "" {
			res, _, err = g.gh.Repositories.UpdateFile(ctx, owner, repo, f.Path, opts)
		} else {
			res, _, err = g.gh.Repositories.CreateFile(ctx, owner, repo, f.Path, opts)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", f.Path, err)
	}
	log.Debugf("[SCM] Wrote %s to %s/%s@%s (%s)", f.Path, owner, repo, f.Branch, res.Commit.GetSHA())
	return &WriteResult{CommitSHA: res.Commit.GetSHA(), CommitURL: res.Commit.GetHTMLURL()}, nil
}

func (g *GitHub) CreateBranch(ctx context.Context, owner, repo, branch, base string) error {
	var ref *github.Reference
	err := g.read(ctx, func() error {
		var err error
		ref, _, err = g.gh.Git.GetRef(ctx, owner, repo, "heads/"+base)
		return err
	})
	if err != nil {
		return fmt.Errorf("get ref %s: %w", base, err)
	}

	err = g.call(ctx, func() error {
		_, _, err := g.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref:    github.Ptr("refs/heads/" + branch),
			Object: &github.GitObject{SHA: ref.GetObject().SHA},
		})
		return err
	})
	if statusOf(err) == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %s", ErrBranchExists, branch)
	}
	return err
}

func (g *GitHub) CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error) {
	var created *github.PullRequest
	err := g.call(ctx, func() error {
		var err error
		created, _, err = g.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
			Title: github.Ptr(pr.Title),
			Body:  github.Ptr(pr.Body),
			Head:  github.Ptr(pr.Head),
			Base:  github.Ptr(pr.Base),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &PullRequest{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

// CheckWriteAccess asks for the authenticated user's permission level.
func (g *GitHub) CheckWriteAccess(ctx context.Context, owner, repo string) (bool, error) {
	var user *github.User
	err := g.read(ctx, func() error {
		var err error
		user, _, err = g.gh.Users.Get(ctx, "")
		return err
	})
	if err != nil {
		return false, fmt.Errorf("get authenticated user: %w", err)
	}

	var level *github.RepositoryPermissionLevel
	err = g.read(ctx, func() error {
		var err error
		level, _, err = g.gh.Repositories.GetPermissionLevel(ctx, owner, repo, user.GetLogin())
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get permission level: %w", err)
	}
	switch level.GetPermission() {
	case "admin", "maintain", "write":
		return true, nil
	}
	return false, nil
}

func (g *GitHub) CreateWebhook(ctx context.Context, owner, repo, hookURL, secret string) (*Webhook, error) {
	var hook *github.Hook
	err := g.call(ctx, func() error {
		var err error
		hook, _, err = g.gh.Repositories.CreateHook(ctx, owner, repo, &github.Hook{
			Name:   github.Ptr("web"),
			Active: github.Ptr(true),
			Events: []string{"push"},
			Config: &github.HookConfig{
				URL:         github.Ptr(hookURL),
				ContentType: github.Ptr("json"),
				Secret:      github.Ptr(secret),
				InsecureSSL: github.Ptr("0"),
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return &Webhook{ID: hook.GetID(), URL: hookURL}, nil
}

func (g *GitHub) DeleteWebhook(ctx context.Context, owner, repo string, id int64) error {
	err := g.call(ctx, func() error {
		_, err := g.gh.Repositories.DeleteHook(ctx, owner, repo, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (g *GitHub) GetTree(ctx context.Context, owner, repo, ref string) ([]string, error) {
	var tree *github.Tree
	err := g.read(ctx, func() error {
		var err error
		tree, _, err = g.gh.Git.GetTree(ctx, owner, repo, ref, true)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", ref, err)
	}
	paths := make([]string, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() == "blob" {
			paths = append(paths, e.GetPath())
		}
	}
	return paths, nil
}
