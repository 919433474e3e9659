package models

import "time"

// AnalyticsDateFormat keys the daily buckets (UTC).
const AnalyticsDateFormat = "2006-01-02"

// AnalyticsBucket aggregates one user's activity for one UTC day.
type AnalyticsBucket struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;index:ux_analytics_user_date,unique,priority:1" json:"user_id"`
	Date             string    `gorm:"type:varchar(10);not null;index:ux_analytics_user_date,unique,priority:2" json:"date"`
	ReposConnected   int64     `gorm:"not null;default:0" json:"repos_connected"`
	DocsGenerated    int64     `gorm:"not null;default:0" json:"docs_generated"`
	CreditsUsed      int64     `gorm:"not null;default:0" json:"credits_used"`
	WebhooksReceived int64     `gorm:"not null;default:0" json:"webhooks_received"`
	PatchesApplied   int64     `gorm:"not null;default:0" json:"patches_applied"`
	PrsCreated       int64     `gorm:"not null;default:0" json:"prs_created"`
	CommitsPushed    int64     `gorm:"not null;default:0" json:"commits_pushed"`
	AverageDiffSize  float64   `gorm:"not null;default:0" json:"average_diff_size"`
	DiffSamples      int64     `gorm:"not null;default:0" json:"-"`
	SuccessCount     int64     `gorm:"not null;default:0" json:"success_count"`
	FailureCount     int64     `gorm:"not null;default:0" json:"failure_count"`
	SuccessRate      float64   `gorm:"not null;default:0" json:"success_rate"`
	FailureRate      float64   `gorm:"not null;default:0" json:"failure_rate"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
