package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	WebhookEventPush             = "push"
	WebhookEventPullRequest      = "pull_request"
	WebhookEventWorkflowDispatch = "workflow_dispatch"
)

// WebhookEvent stores a signature-valid delivery. (repo_id, delivery_id) is
// unique so redeliveries are absorbed.
type WebhookEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	RepoID      uint           `gorm:"not null;index:ux_webhook_events_repo_delivery,unique,priority:1" json:"repo_id"`
	DeliveryID  string         `gorm:"type:varchar(191);not null;index:ux_webhook_events_repo_delivery,unique,priority:2" json:"delivery_id"`
	EventType   string         `gorm:"type:varchar(50);not null;index" json:"event_type"`
	Payload     datatypes.JSON `json:"payload"`
	Signature   string         `gorm:"type:varchar(100)" json:"-"`
	Processed   bool           `gorm:"index" json:"processed"`
	ProcessedAt *time.Time     `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	JobID       string         `gorm:"type:varchar(191);index" json:"job_id,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
