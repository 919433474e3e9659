// Package credits keeps each user's credit balance and the append-only log of
// every change to it.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/jobqueue"
)

// ErrInsufficientCredits keeps the user-facing wording of the failed debit.
var ErrInsufficientCredits = errors.New("Insufficient credits")

const (
	DefaultStartingBalance  = 1000
	DefaultWarningThreshold = 100

	resetBatchSize     = 200
	resetCheckInterval = time.Hour
)

type Config struct {
	StartingBalance  int64
	WarningThreshold int64
}

// Result reports the outcome of a balance mutation.
type Result struct {
	Success     bool                      `json:"success"`
	Balance     int64                     `json:"balance"`
	Message     string                    `json:"message"`
	Duplicate   bool                      `json:"duplicate,omitempty"`
	Transaction *models.CreditTransaction `json:"transaction,omitempty"`
}

// Service gates and records credit usage.
type Service struct {
	repo   Repository
	locker Locker
	cfg    Config
}

// NewService creates a credit service. A nil locker relies on the
// conditional UPDATE alone.
func NewService(repo Repository, locker Locker, cfg Config) *Service {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = DefaultStartingBalance
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	return &Service{repo: repo, locker: locker, cfg: cfg}
}

// NewServiceFromDB wires the GORM repository and a Redis lock.
func NewServiceFromDB(db *gorm.DB, rdb *redis.Client, cfg Config) *Service {
	var locker Locker
	if rdb != nil {
		locker = NewRedisLocker(rdb, 0, 0)
	}
	return NewService(NewRepository(db), locker, cfg)
}

func lockKey(userID uint) string {
	return fmt.Sprintf("credits:lock:%d", userID)
}

func (s *Service) withLock(ctx context.Context, userID uint, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	release, err := s.locker.Obtain(ctx, lockKey(userID))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// GetOrCreate returns the user's account, opening it with the starting
// balance on first use.
func (s *Service) GetOrCreate(ctx context.Context, userID uint) (*models.CreditAccount, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	return s.repo.GetOrCreateAccount(ctx, userID, s.cfg.StartingBalance, s.cfg.WarningThreshold)
}

func (s *Service) GetBalance(ctx context.Context, userID uint) (int64, error) {
	account, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) HasSufficientCredits(ctx context.Context, userID uint, amount int64) (bool, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// IsBelowThreshold reports whether the balance is at or under the warning
// threshold.
func (s *Service) IsBelowThreshold(ctx context.Context, userID uint) (bool, error) {
	account, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return account.Balance <= account.WarningThreshold, nil
}

// Deduct debits amount. A debit that would overdraw fails closed with
// ErrInsufficientCredits and changes nothing. When jobID is set the debit is
// idempotent: repeating it returns the first result.
func (s *Service) Deduct(ctx context.Context, userID uint, amount int64, reason, jobID string) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	var jobRef *string
	if id := strings.TrimSpace(jobID); id != "" {
		jobRef = &id
	}

	var result *Result
	err := s.withLock(ctx, userID, func() error {
		if jobRef != nil {
			prev, err := s.repo.FindJobTransaction(ctx, *jobRef, models.CreditTxDeduct)
			if err != nil {
				return err
			}
			if prev != nil {
				result = duplicateResult(prev)
				return nil
			}
		}

		row, err := s.repo.Debit(ctx, userID, amount, reason, jobRef)
		switch {
		case errors.Is(err, errNoFunds):
			balance, berr := s.GetBalance(ctx, userID)
			if berr != nil {
				return berr
			}
			result = &Result{Success: false, Balance: balance, Message: ErrInsufficientCredits.Error()}
			return ErrInsufficientCredits
		case err != nil:
			// Without a lock two debits for one job can race; the unique
			// index rejects the second.
			if jobRef != nil {
				if prev, ferr := s.repo.FindJobTransaction(ctx, *jobRef, models.CreditTxDeduct); ferr == nil && prev != nil {
					result = duplicateResult(prev)
					return nil
				}
			}
			return err
		}

		result = &Result{Success: true, Balance: row.BalanceAfter, Message: "Credits deducted", Transaction: row}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			log.Warnf("[Credits] User %d cannot cover %d credits (balance %d)", userID, amount, result.Balance)
			return result, err
		}
		return nil, err
	}

	if !result.Duplicate {
		log.Infof("[Credits] Deducted %d credits from user %d (%s), balance %d", amount, userID, reason, result.Balance)
	}
	return result, nil
}

func duplicateResult(prev *models.CreditTransaction) *Result {
	return &Result{
		Success:     true,
		Balance:     prev.BalanceAfter,
		Message:     "Credits already deducted for this job",
		Duplicate:   true,
		Transaction: prev,
	}
}

func (s *Service) Add(ctx context.Context, userID uint, amount int64, reason string) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("add amount must be positive, got %d", amount)
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	var row *models.CreditTransaction
	err := s.withLock(ctx, userID, func() error {
		var err error
		row, err = s.repo.Credit(ctx, userID, amount, models.CreditTxAdd, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Credits] Added %d credits to user %d (%s), balance %d", amount, userID, reason, row.BalanceAfter)
	return &Result{Success: true, Balance: row.BalanceAfter, Message: "Credits added", Transaction: row}, nil
}

// ResetMonthly restores the starting balance.
func (s *Service) ResetMonthly(ctx context.Context, userID uint) (*Result, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	var row *models.CreditTransaction
	err := s.withLock(ctx, userID, func() error {
		var err error
		row, err = s.repo.Reset(ctx, userID, s.cfg.StartingBalance, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Balance: row.BalanceAfter, Message: "Credits reset", Transaction: row}, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID uint, limit int) ([]models.CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit)
}

// ResetDue resets every account whose last reset is more than a month before
// now and returns how many were reset. A failing account is logged and
// skipped so one bad row does not hold back the rest.
func (s *Service) ResetDue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().AddDate(0, -1, 0)
	ids, err := s.repo.ListDueForReset(ctx, cutoff, resetBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list accounts due for reset: %w", err)
	}
	reset := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return reset, ctx.Err()
		}
		if _, err := s.ResetMonthly(ctx, id); err != nil {
			log.Warnf("[Credits] Monthly reset for user %d failed: %v", id, err)
			continue
		}
		reset++
	}
	if reset > 0 {
		log.Infof("[Credits] Monthly reset restored %d accounts to %d credits", reset, s.cfg.StartingBalance)
	}
	return reset, nil
}

// ResetTask runs ResetDue hourly next to the dispatcher.
func (s *Service) ResetTask() jobqueue.Task {
	return jobqueue.Task{
		Name:     "reset_credits",
		Interval: resetCheckInterval,
		Run: func(ctx context.Context) error {
			_, err := s.ResetDue(ctx, time.Now())
			return err
		},
	}
}
