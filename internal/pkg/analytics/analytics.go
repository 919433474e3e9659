// Package analytics keeps per-user daily usage counters. Every update is a
// single SQL increment so concurrent stages never lose writes.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/DocFox/app/models"
)

// Metric names a plain counter column.
type Metric string

const (
	ReposConnected   Metric = "repos_connected"
	DocsGenerated    Metric = "docs_generated"
	CreditsUsed      Metric = "credits_used"
	WebhooksReceived Metric = "webhooks_received"
	PatchesApplied   Metric = "patches_applied"
	PrsCreated       Metric = "prs_created"
	CommitsPushed    Metric = "commits_pushed"
)

var counterColumns = map[Metric]bool{
	ReposConnected:   true,
	DocsGenerated:    true,
	CreditsUsed:      true,
	WebhooksReceived: true,
	PatchesApplied:   true,
	PrsCreated:       true,
	CommitsPushed:    true,
}

// Service records and reads analytics buckets.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// DateKey is the UTC calendar day of t.
func DateKey(t time.Time) string {
	return t.UTC().Format(models.AnalyticsDateFormat)
}

func (s *Service) ensureBucket(tx *gorm.DB, userID uint, date string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.AnalyticsBucket{UserID: userID, Date: date}).Error
}

// Increment adds by to one counter in today's bucket.
func (s *Service) Increment(ctx context.Context, userID uint, metric Metric, by int64) error {
	if !counterColumns[metric] {
		return fmt.Errorf("unknown metric %q", metric)
	}
	if by == 0 {
		return nil
	}
	date := DateKey(s.now())
	db := s.db.WithContext(ctx)
	if err := s.ensureBucket(db, userID, date); err != nil {
		return err
	}
	col := string(metric)
	return db.Model(&models.AnalyticsBucket{}).
		Where("user_id = ? AND date = ?", userID, date).
		UpdateColumn(col, gorm.Expr(col+" + ?", by)).Error
}

// RecordDiffSize folds one diff size into today's running average.
func (s *Service) RecordDiffSize(ctx context.Context, userID uint, size int64) error {
	date := DateKey(s.now())
	db := s.db.WithContext(ctx)
	if err := s.ensureBucket(db, userID, date); err != nil {
		return err
	}
	return db.Model(&models.AnalyticsBucket{}).
		Where("user_id = ? AND date = ?", userID, date).
		UpdateColumns(map[string]interface{}{
			"average_diff_size": gorm.Expr("(average_diff_size * diff_samples + ?) / (diff_samples + 1)", size),
			"diff_samples":      gorm.Expr("diff_samples + 1"),
		}).Error
}

// RecordOutcome counts one run as a success or failure and refreshes the
// rates. A rate is count / (successCount + failureCount + 1) with the counts
// taken before this event, which equals the post-event count over the
// post-event total.
func (s *Service) RecordOutcome(ctx context.Context, userID uint, success bool) error {
	date := DateKey(s.now())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureBucket(tx, userID, date); err != nil {
			return err
		}
		col := "failure_count"
		if success {
			col = "success_count"
		}
		scope := tx.Model(&models.AnalyticsBucket{}).Where("user_id = ? AND date = ?", userID, date)
		if err := scope.UpdateColumn(col, gorm.Expr(col+" + 1")).Error; err != nil {
			return err
		}
		// Separate statement: MySQL evaluates SET clauses left to right,
		// so the rates must read the already-incremented counts.
		return tx.Model(&models.AnalyticsBucket{}).
			Where("user_id = ? AND date = ?", userID, date).
			UpdateColumns(map[string]interface{}{
				"success_rate": gorm.Expr("success_count * 1.0 / (success_count + failure_count)"),
				"failure_rate": gorm.Expr("failure_count * 1.0 / (success_count + failure_count)"),
			}).Error
	})
}

// Range returns the user's buckets for the last days days, newest first.
func (s *Service) Range(ctx context.Context, userID uint, days int) ([]models.AnalyticsBucket, error) {
	if days <= 0 {
		days = 30
	}
	if days > 366 {
		days = 366
	}
	since := DateKey(s.now().AddDate(0, 0, -(days - 1)))

	var buckets []models.AnalyticsBucket
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, since).
		Order("date DESC").
		Find(&buckets).Error
	return buckets, err
}

// Summary totals a range of buckets.
type Summary struct {
	Days             int     `json:"days"`
	ReposConnected   int64   `json:"repos_connected"`
	DocsGenerated    int64   `json:"docs_generated"`
	CreditsUsed      int64   `json:"credits_used"`
	WebhooksReceived int64   `json:"webhooks_received"`
	PatchesApplied   int64   `json:"patches_applied"`
	PrsCreated       int64   `json:"prs_created"`
	CommitsPushed    int64   `json:"commits_pushed"`
	SuccessCount     int64   `json:"success_count"`
	FailureCount     int64   `json:"failure_count"`
	SuccessRate      float64 `json:"success_rate"`
}

func Summarize(days int, buckets []models.AnalyticsBucket) Summary {
	sum := Summary{Days: days}
	for _, b := range buckets {
		sum.ReposConnected += b.ReposConnected
		sum.DocsGenerated += b.DocsGenerated
		sum.CreditsUsed += b.CreditsUsed
		sum.WebhooksReceived += b.WebhooksReceived
		sum.PatchesApplied += b.PatchesApplied
		sum.PrsCreated += b.PrsCreated
		sum.CommitsPushed += b.CommitsPushed
		sum.SuccessCount += b.SuccessCount
		sum.FailureCount += b.FailureCount
	}
	if total := sum.SuccessCount + sum.FailureCount; total > 0 {
		sum.SuccessRate = float64(sum.SuccessCount) / float64(total)
	}
	return sum
}

// Track is Increment for callers that only log failures.
func (s *Service) Track(ctx context.Context, userID uint, metric Metric, by int64) {
	if err := s.Increment(ctx, userID, metric, by); err != nil {
		log.Warnf("[Analytics] Failed to record %s for user %d: %v", metric, userID, err)
	}
}
