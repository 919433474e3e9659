// Package mail renders and sends the notification emails of a run.
package mail

import (
	"context"
)

// Change is one documentation file touched by a run.
type Change struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

type DocUpdate struct {
	To            string
	RepoName      string
	Summary       string
	DiffPreview   string
	CoverageScore float64
	Changes       []Change
	URL           string
	JobID         string
}

type Mailer interface {
	SendDocUpdateEmail(ctx context.Context, d DocUpdate) error
	SendErrorNotification(ctx context.Context, to, repoName, errMsg, jobID string) error
	SendLowCreditsWarning(ctx context.Context, to string, balance int64) error
}
