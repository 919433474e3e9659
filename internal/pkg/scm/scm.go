// Package scm talks to the source-control host on behalf of a user.
package scm

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a commit, file or ref does not exist.
var ErrNotFound = errors.New("not found")

// ErrBranchExists is returned by CreateBranch when the ref is already there.
var ErrBranchExists = errors.New("branch already exists")

type Commit struct {
	SHA         string
	Message     string
	AuthorName  string
	AuthorEmail string
	URL         string
	Parents     []string
}

// FileChange is one file of a diff between two commits.
type FileChange struct {
	Path      string
	Status    string
	Patch     string
	Additions int
	Deletions int
}

const FileStatusRemoved = "removed"

type FileContent struct {
	Path    string
	Content string
	SHA     string
}

// FileUpdate creates a file when SHA is empty and replaces it otherwise.
type FileUpdate struct {
	Path    string
	Message string
	Content string
	SHA     string
	Branch  string
}

type WriteResult struct {
	CommitSHA string
	CommitURL string
}

type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

type PullRequest struct {
	Number int
	URL    string
}

type Webhook struct {
	ID  int64
	URL string
}

// Client is everything the pipeline and the repository setup need from the
// host.
type Client interface {
	GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error)
	GetCommitDiff(ctx context.Context, owner, repo, base, head string) ([]FileChange, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) (*FileContent, error)
	UpdateFile(ctx context.Context, owner, repo string, f FileUpdate) (*WriteResult, error)
	CreateBranch(ctx context.Context, owner, repo, branch, base string) error
	CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error)
	CheckWriteAccess(ctx context.Context, owner, repo string) (bool, error)
	CreateWebhook(ctx context.Context, owner, repo, url, secret string) (*Webhook, error)
	DeleteWebhook(ctx context.Context, owner, repo string, id int64) error
	// GetTree lists blob paths at ref, recursively.
	GetTree(ctx context.Context, owner, repo, ref string) ([]string, error)
}

// Provider hands out a Client authenticated as the given user.
type Provider interface {
	ForUser(ctx context.Context, userID uint) (Client, error)
}
