package models

import (
	"strings"
	"time"
)

// RepoSettings is embedded into the repos table with a settings_ prefix.
// Booleans carry no gorm default so an explicit false survives Create; use
// DefaultRepoSettings for new rows.
type RepoSettings struct {
	AutoUpdate         bool   `json:"auto_update"`
	DocTypes           string `gorm:"type:varchar(255)" json:"doc_types"`
	BranchPreference   string `gorm:"type:varchar(100)" json:"branch_preference"`
	EmailNotifications bool   `json:"email_notifications"`
	CreatePullRequest  bool   `json:"create_pull_request"`
}

func DefaultRepoSettings() RepoSettings {
	return RepoSettings{
		AutoUpdate:         true,
		DocTypes:           "readme,changelog",
		EmailNotifications: true,
	}
}

// DocTypeList splits the comma separated DocTypes column.
func (s RepoSettings) DocTypeList() []string {
	var out []string
	for _, t := range strings.Split(s.DocTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Repo is a connected source-control repository.
type Repo struct {
	ID                   uint         `gorm:"primaryKey" json:"id"`
	UserID               uint         `gorm:"not null;index" json:"user_id"`
	GithubRepoID         int64        `gorm:"index" json:"github_repo_id"`
	Name                 string       `gorm:"type:varchar(191);not null" json:"name"`
	FullName             string       `gorm:"type:varchar(191);not null;uniqueIndex" json:"full_name"`
	Owner                string       `gorm:"type:varchar(191);not null" json:"owner"`
	DefaultBranch        string       `gorm:"type:varchar(191)" json:"default_branch"`
	WebhookID            int64        `json:"webhook_id"`
	WebhookURL           string       `gorm:"type:varchar(255)" json:"webhook_url"`
	WebhookSecretEnc     string       `gorm:"type:text" json:"-"`
	IsActive             bool         `gorm:"index" json:"is_active"`
	Settings             RepoSettings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	LastProcessedCommit  string       `gorm:"type:varchar(64)" json:"last_processed_commit"`
	LastProcessedSummary string       `gorm:"type:text" json:"last_processed_summary"`
	LastProcessedAt      *time.Time   `gorm:"type:timestamp;default:null" json:"last_processed_at,omitempty"`
	Language             string       `gorm:"type:varchar(100)" json:"language"`
	Size                 int64        `json:"size"`
	CoverageScore        float64      `json:"coverage_score"`
	CreatedAt            time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// OwnerAndName splits FullName, falling back to the stored columns.
func (r *Repo) OwnerAndName() (string, string) {
	if owner, name, ok := strings.Cut(r.FullName, "/"); ok {
		return owner, name
	}
	return r.Owner, r.Name
}

// TargetBranch is the branch documentation commits go to.
func (r *Repo) TargetBranch(pushed string) string {
	switch {
	case r.DefaultBranch != "":
		return r.DefaultBranch
	case pushed != "":
		return pushed
	default:
		return "main"
	}
}
