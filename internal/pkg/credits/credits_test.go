package credits

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/database/dbtest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewServiceFromDB(dbtest.New(t), rdb, Config{StartingBalance: 1000, WarningThreshold: 100})
}

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name                 string
		lines, files, tokens int64
		want                 int64
	}{
		{"empty", 0, 0, 0, 10},
		{"one of each", 1, 1, 1, 14},
		{"exact thousands", 2000, 3, 3000, 10 + 2 + 6 + 3},
		{"just over", 2001, 0, 1001, 10 + 3 + 2},
		{"negative treated as zero", -5, -1, -1, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CalculateCost(tc.lines, tc.files, tc.tokens))
		})
	}
	assert.Equal(t, int64(3), EstimateTokens(9))
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	account, err := s.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance)
	assert.Equal(t, int64(1000), account.TotalAdded)
	assert.Equal(t, int64(100), account.WarningThreshold)

	again, err := s.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)

	_, err = s.GetOrCreate(ctx, 0)
	assert.Error(t, err)
}

func TestDeduct(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	res, err := s.Deduct(ctx, 1, 30, "AI documentation generation", "generate_docs:abc")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(970), res.Balance)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, int64(-30), res.Transaction.Amount)
	assert.Equal(t, models.CreditTxDeduct, res.Transaction.Type)

	account, err := s.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30), account.TotalUsed)

	_, err = s.Deduct(ctx, 1, 0, "nothing", "")
	assert.Error(t, err)
}

func TestDeduct_IdempotentPerJob(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	first, err := s.Deduct(ctx, 1, 25, "run", "job-1")
	require.NoError(t, err)
	second, err := s.Deduct(ctx, 1, 25, "run", "job-1")
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Balance, second.Balance)

	balance, err := s.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(975), balance)

	txs, err := s.ListTransactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestDeduct_FailsClosed(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	res, err := s.Deduct(ctx, 1, 1001, "too much", "job-big")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "Insufficient credits", res.Message)
	assert.Equal(t, int64(1000), res.Balance)

	txs, err := s.ListTransactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)

	// Draining to exactly zero is allowed.
	res, err = s.Deduct(ctx, 1, 1000, "all of it", "job-all")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Balance)
}

// The balance never goes negative and equals the transaction sum, no matter
// how debits interleave.
func TestDeduct_ConcurrentBalanceInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	_, err := s.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Deduct(ctx, 1, 70, "parallel", fmt.Sprintf("job-%d", i%20))
			if err == nil && res.Success && !res.Duplicate {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	balance, err := s.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance, int64(0))
	assert.Equal(t, 14, succeeded, "1000 credits cover 14 debits of 70")
	assert.Equal(t, int64(1000-14*70), balance)

	txs, err := s.ListTransactions(ctx, 1, 200)
	require.NoError(t, err)
	sum := int64(0)
	for _, tx := range txs {
		sum += tx.Amount
	}
	assert.Equal(t, balance, 1000+sum)
}

func TestAddAndReset(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	res, err := s.Add(ctx, 1, 500, "top up")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.Balance)

	_, err = s.Add(ctx, 1, -1, "bad")
	assert.Error(t, err)

	_, err = s.Deduct(ctx, 1, 1450, "spend", "")
	require.NoError(t, err)

	below, err := s.IsBelowThreshold(ctx, 1)
	require.NoError(t, err)
	assert.True(t, below)

	ok, err := s.HasSufficientCredits(ctx, 1, 51)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err = s.ResetMonthly(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Balance)

	account, err := s.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), account.TotalAdded)
	require.NotNil(t, account.LastResetAt)

	below, err = s.IsBelowThreshold(ctx, 1)
	require.NoError(t, err)
	assert.False(t, below)
}

func TestRedisLocker_Serializes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	locker := NewRedisLocker(rdb, time.Second, 200*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "credits:lock:1")
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "credits:lock:1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	release2, err := locker.Obtain(ctx, "credits:lock:1")
	require.NoError(t, err)
	release2()
}

func TestNewService_NilLocker(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewRepository(dbtest.New(t)), nil, Config{})

	res, err := s.Deduct(ctx, 9, 10, "no lock", "job-x")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultStartingBalance-10), res.Balance)

	dup, err := s.Deduct(ctx, 9, 10, "no lock", "job-x")
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
}

func TestResetDue(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	s := NewService(NewRepository(db), nil, Config{StartingBalance: 1000, WarningThreshold: 100})
	now := time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC)

	for _, id := range []uint{1, 2, 3, 4} {
		_, err := s.GetOrCreate(ctx, id)
		require.NoError(t, err)
		_, err = s.Deduct(ctx, id, 300, "usage", fmt.Sprintf("job-%d", id))
		require.NoError(t, err)
	}
	set := func(userID uint, column string, at time.Time) {
		require.NoError(t, db.Model(&models.CreditAccount{}).Where("user_id = ?", userID).UpdateColumn(column, at).Error)
	}
	// 1: never reset, old account. 2: never reset, new account.
	// 3: reset 40 days ago. 4: reset last week.
	set(1, "created_at", now.AddDate(0, -2, 0))
	set(2, "created_at", now.AddDate(0, 0, -3))
	set(3, "created_at", now.AddDate(0, -6, 0))
	set(3, "last_reset_at", now.AddDate(0, 0, -40))
	set(4, "created_at", now.AddDate(0, -6, 0))
	set(4, "last_reset_at", now.AddDate(0, 0, -7))

	n, err := s.ResetDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[uint]int64{1: 1000, 2: 700, 3: 1000, 4: 700} {
		balance, err := s.GetBalance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, balance, "user %d", id)
	}

	// The reset stamps last_reset_at with the wall clock, so a second pass
	// at the same instant finds nothing.
	n, err = s.ResetDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	task := s.ResetTask()
	assert.Equal(t, "reset_credits", task.Name)
	assert.Equal(t, time.Hour, task.Interval)
}
