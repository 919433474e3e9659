// Package scmtest provides an in-memory source-control host for tests.
package scmtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ManuelReschke/DocFox/internal/pkg/scm"
)

// Fake is a single repository whose files live in memory. Branches share one
// file set. It implements both scm.Client and scm.Provider.
type Fake struct {
	mu sync.Mutex

	Commits map[string]*scm.Commit
	// Diffs is keyed by head SHA.
	Diffs map[string][]scm.FileChange
	Files map[string]string
	// Tree overrides the listing derived from Files.
	Tree []string

	ReadErrors  map[string]error
	WriteErrors map[string]error
	ForUserErr  error

	Writes   []scm.FileUpdate
	Branches []string
	PRs      []scm.NewPullRequest
	Hooks    []scm.Webhook

	blobs   map[string]string
	commits int
}

func New() *Fake {
	return &Fake{
		Commits:     map[string]*scm.Commit{},
		Diffs:       map[string][]scm.FileChange{},
		Files:       map[string]string{},
		ReadErrors:  map[string]error{},
		WriteErrors: map[string]error{},
		blobs:       map[string]string{},
	}
}

func (f *Fake) ForUser(context.Context, uint) (scm.Client, error) {
	if f.ForUserErr != nil {
		return nil, f.ForUserErr
	}
	return f, nil
}

func (f *Fake) GetCommit(_ context.Context, owner, repo, sha string) (*scm.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Commits[sha]
	if !ok {
		return nil, fmt.Errorf("%w: commit %s", scm.ErrNotFound, sha)
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) GetCommitDiff(_ context.Context, owner, repo, base, head string) ([]scm.FileChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scm.FileChange(nil), f.Diffs[head]...), nil
}

func (f *Fake) blobFor(path string) string {
	if sha, ok := f.blobs[path]; ok {
		return sha
	}
	sha := fmt.Sprintf("blob-%s", path)
	f.blobs[path] = sha
	return sha
}

func (f *Fake) GetFileContent(_ context.Context, owner, repo, path, ref string) (*scm.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReadErrors[path]; err != nil {
		return nil, err
	}
	content, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scm.ErrNotFound, path)
	}
	return &scm.FileContent{Path: path, Content: content, SHA: f.blobFor(path)}, nil
}

func (f *Fake) UpdateFile(_ context.Context, owner, repo string, u scm.FileUpdate) (*scm.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.WriteErrors[u.Path]; err != nil {
		return nil, err
	}
	if _, exists := f.Files[u.Path]; exists && u.SHA != f.blobFor(u.Path) {
		return nil, fmt.Errorf("sha mismatch for %s", u.Path)
	}
	f.Writes = append(f.Writes, u)
	f.Files[u.Path] = u.Content
	f.commits++
	f.blobs[u.Path] = fmt.Sprintf("blob-%s-%d", u.Path, f.commits)
	sha := fmt.Sprintf("new%d", f.commits)
	return &scm.WriteResult{
		CommitSHA: sha,
		CommitURL: fmt.Sprintf("https://github.com/%s/%s/commit/%s", owner, repo, sha),
	}, nil
}

func (f *Fake) CreateBranch(_ context.Context, owner, repo, branch, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.Branches {
		if b == branch {
			return fmt.Errorf("%w: %s", scm.ErrBranchExists, branch)
		}
	}
	f.Branches = append(f.Branches, branch)
	return nil
}

func (f *Fake) CreatePullRequest(_ context.Context, owner, repo string, pr scm.NewPullRequest) (*scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PRs = append(f.PRs, pr)
	n := len(f.PRs)
	return &scm.PullRequest{Number: n, URL: fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, n)}, nil
}

func (f *Fake) CheckWriteAccess(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *Fake) CreateWebhook(_ context.Context, owner, repo, url, secret string) (*scm.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := scm.Webhook{ID: int64(len(f.Hooks) + 1), URL: url}
	f.Hooks = append(f.Hooks, h)
	return &h, nil
}

func (f *Fake) DeleteWebhook(_ context.Context, owner, repo string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, h := range f.Hooks {
		if h.ID == id {
			f.Hooks = append(f.Hooks[:i], f.Hooks[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) GetTree(context.Context, string, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Tree != nil {
		return append([]string(nil), f.Tree...), nil
	}
	out := make([]string, 0, len(f.Files))
	for p := range f.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// WritesTo lists the paths written to branch, in order.
func (f *Fake) WritesTo(branch string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range f.Writes {
		if strings.EqualFold(w.Branch, branch) {
			out = append(out, w.Path)
		}
	}
	return out
}
