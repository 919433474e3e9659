package credits

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/DocFox/app/models"
)

// errNoFunds is the repository's signal that the conditional debit matched
// no row.
var errNoFunds = errors.New("balance too low")

// Repository provides DB operations used by the credit service.
type Repository interface {
	GetOrCreateAccount(ctx context.Context, userID uint, starting, threshold int64) (*models.CreditAccount, error)
	FindJobTransaction(ctx context.Context, jobID, txType string) (*models.CreditTransaction, error)
	Debit(ctx context.Context, userID uint, amount int64, reason string, jobID *string) (*models.CreditTransaction, error)
	Credit(ctx context.Context, userID uint, amount int64, txType, reason string) (*models.CreditTransaction, error)
	Reset(ctx context.Context, userID uint, balance int64, at time.Time) (*models.CreditTransaction, error)
	ListTransactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error)
	ListDueForReset(ctx context.Context, before time.Time, limit int) ([]uint, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a credit repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateAccount(ctx context.Context, userID uint, starting, threshold int64) (*models.CreditAccount, error) {
	db := r.db.WithContext(ctx)
	account := &models.CreditAccount{
		UserID:           userID,
		Balance:          starting,
		TotalAdded:       starting,
		WarningThreshold: threshold,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(account).Error; err != nil {
		return nil, err
	}

	var out models.CreditAccount
	if err := db.Where("user_id = ?", userID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *gormRepository) FindJobTransaction(ctx context.Context, jobID, txType string) (*models.CreditTransaction, error) {
	var tx models.CreditTransaction
	err := r.db.WithContext(ctx).Where("job_id = ? AND type = ?", jobID, txType).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Debit subtracts amount only if the balance covers it and appends the
// transaction row in the same DB transaction.
func (r *gormRepository) Debit(ctx context.Context, userID uint, amount int64, reason string, jobID *string) (*models.CreditTransaction, error) {
	var row *models.CreditTransaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditAccount{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", amount),
				"total_used": gorm.Expr("total_used + ?", amount),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNoFunds
		}

		var account models.CreditAccount
		if err := tx.Where("user_id = ?", userID).First(&account).Error; err != nil {
			return err
		}
		row = &models.CreditTransaction{
			AccountID:    account.ID,
			UserID:       userID,
			Amount:       -amount,
			Type:         models.CreditTxDeduct,
			Reason:       reason,
			JobID:        jobID,
			BalanceAfter: account.Balance,
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *gormRepository) Credit(ctx context.Context, userID uint, amount int64, txType, reason string) (*models.CreditTransaction, error) {
	var row *models.CreditTransaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditAccount{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"balance":     gorm.Expr("balance + ?", amount),
				"total_added": gorm.Expr("total_added + ?", amount),
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var account models.CreditAccount
		if err := tx.Where("user_id = ?", userID).First(&account).Error; err != nil {
			return err
		}
		row = &models.CreditTransaction{
			AccountID:    account.ID,
			UserID:       userID,
			Amount:       amount,
			Type:         txType,
			Reason:       reason,
			BalanceAfter: account.Balance,
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Reset sets the balance outright and records the grant.
func (r *gormRepository) Reset(ctx context.Context, userID uint, balance int64, at time.Time) (*models.CreditTransaction, error) {
	var row *models.CreditTransaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditAccount{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"balance":       balance,
				"total_added":   gorm.Expr("total_added + ?", balance),
				"last_reset_at": at,
				"updated_at":    time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var account models.CreditAccount
		if err := tx.Where("user_id = ?", userID).First(&account).Error; err != nil {
			return err
		}
		row = &models.CreditTransaction{
			AccountID:    account.ID,
			UserID:       userID,
			Amount:       balance,
			Type:         models.CreditTxReset,
			Reason:       "Monthly credit reset",
			BalanceAfter: account.Balance,
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *gormRepository) ListTransactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListDueForReset returns users whose last reset, or account creation when
// they were never reset, is before the cutoff.
func (r *gormRepository) ListDueForReset(ctx context.Context, before time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Where("(last_reset_at IS NULL AND created_at < ?) OR last_reset_at < ?", before, before).
		Order("user_id").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}
