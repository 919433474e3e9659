package models

import "time"

const (
	CreditTxDeduct = "deduct"
	CreditTxAdd    = "add"
	CreditTxReset  = "reset"
)

// CreditAccount holds one user's balance. Balance never goes negative.
type CreditAccount struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance          int64      `gorm:"not null;default:0" json:"balance"`
	TotalUsed        int64      `gorm:"not null;default:0" json:"total_used"`
	TotalAdded       int64      `gorm:"not null;default:0" json:"total_added"`
	WarningThreshold int64      `gorm:"not null;default:0" json:"warning_threshold"`
	LastResetAt      *time.Time `gorm:"type:timestamp;default:null" json:"last_reset_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditTransaction is append-only. A non-nil JobID is unique per type, which
// makes per-job debits idempotent.
type CreditTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;index" json:"account_id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Type         string    `gorm:"type:varchar(10);not null;index:ux_credit_transactions_job_type,unique,priority:2" json:"type"`
	Reason       string    `gorm:"type:varchar(255)" json:"reason"`
	JobID        *string   `gorm:"type:varchar(191);index:ux_credit_transactions_job_type,unique,priority:1" json:"job_id,omitempty"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
