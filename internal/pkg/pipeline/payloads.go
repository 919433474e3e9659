package pipeline

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/DocFox/internal/pkg/docgen"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/DocFox/internal/pkg/mail"
)

// Job names. The notify queue carries three kinds of mail.
const (
	JobProcessCommit         = "process_commit"
	JobGenerateDocs          = "generate_docs"
	JobApplyPatch            = "apply_patch"
	JobSendEmail             = "send_email"
	JobSendErrorEmail        = "send_error_email"
	JobSendLowCreditsWarning = "send_low_credits_warning"
	JobRecomputeCoverage     = "recompute_coverage"
)

var validate = validator.New()

// IntakePayload starts a run for one pushed commit.
type IntakePayload struct {
	WebhookEventID uint   `json:"webhookEventId"`
	RepoID         uint   `json:"repoId" validate:"required"`
	UserID         uint   `json:"userId" validate:"required"`
	CommitSHA      string `json:"commitSha" validate:"required"`
	Branch         string `json:"branch"`
}

type (
	FileDiff     = docgen.FileDiff
	RepoContext  = docgen.RepoContext
	ExistingDocs = docgen.ExistingDocs
	Patch        = docgen.Patch
)

type GeneratePayload struct {
	WebhookEventID uint         `json:"webhookEventId"`
	RepoID         uint         `json:"repoId" validate:"required"`
	UserID         uint         `json:"userId" validate:"required"`
	CommitSHA      string       `json:"commitSha" validate:"required"`
	Branch         string       `json:"branch"`
	CommitMessage  string       `json:"commitMessage"`
	Files          []FileDiff   `json:"files" validate:"required,min=1,dive"`
	Context        RepoContext  `json:"context"`
	Docs           ExistingDocs `json:"existingDocs"`
}

type ApplyPayload struct {
	RepoID        uint    `json:"repoId" validate:"required"`
	UserID        uint    `json:"userId" validate:"required"`
	CommitSHA     string  `json:"commitSha" validate:"required"`
	Branch        string  `json:"branch"`
	Patches       []Patch `json:"patches" validate:"required,min=1,dive"`
	Summary       string  `json:"summary"`
	CoverageScore float64 `json:"coverageScore" validate:"min=0,max=100"`
}

// NotifyPayload feeds all three notify job names. Unused fields stay empty.
type NotifyPayload struct {
	UserID        uint          `json:"userId" validate:"required"`
	RepoID        uint          `json:"repoId"`
	RepoName      string        `json:"repoName"`
	CommitSHA     string        `json:"commitSha"`
	Summary       string        `json:"summary,omitempty"`
	DiffPreview   string        `json:"diffPreview,omitempty"`
	Changes       []mail.Change `json:"changes,omitempty"`
	CoverageScore float64       `json:"coverageScore,omitempty"`
	URL           string        `json:"url,omitempty"`
	// FailedJobID names the job an error mail is about.
	FailedJobID  string `json:"failedJobId,omitempty"`
	Stage        string `json:"stage,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	Balance      int64  `json:"balance,omitempty"`
}

type CoveragePayload struct {
	RepoID uint `json:"repoId" validate:"required"`
	UserID uint `json:"userId"`
}

// decode unmarshals and validates a job payload. A payload that does not
// decode will never succeed, so the error is fatal.
func decode[T any](job *jobqueue.Job) (T, error) {
	var p T
	if err := job.Decode(&p); err != nil {
		return p, jobqueue.Fatal(fmt.Errorf("decode %s payload: %w", job.Name, err))
	}
	if err := validate.Struct(&p); err != nil {
		return p, jobqueue.Fatal(fmt.Errorf("invalid %s payload: %w", job.Name, err))
	}
	return p, nil
}
