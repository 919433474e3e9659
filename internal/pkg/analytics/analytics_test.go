package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DocFox/app/models"
	"github.com/ManuelReschke/DocFox/internal/pkg/database/dbtest"
)

func newTestService(t *testing.T, now time.Time) *Service {
	t.Helper()
	s := NewService(dbtest.New(t))
	s.now = func() time.Time { return now }
	return s
}

func today(t *testing.T, s *Service, userID uint) models.AnalyticsBucket {
	t.Helper()
	buckets, err := s.Range(context.Background(), userID, 1)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	return buckets[0]
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC))

	require.NoError(t, s.Increment(ctx, 1, WebhooksReceived, 1))
	require.NoError(t, s.Increment(ctx, 1, WebhooksReceived, 1))
	require.NoError(t, s.Increment(ctx, 1, CreditsUsed, 27))
	require.NoError(t, s.Increment(ctx, 1, PatchesApplied, 0))
	assert.Error(t, s.Increment(ctx, 1, Metric("balance; DROP TABLE"), 1))

	b := today(t, s, 1)
	assert.Equal(t, "2024-03-10", b.Date)
	assert.Equal(t, int64(2), b.WebhooksReceived)
	assert.Equal(t, int64(27), b.CreditsUsed)
	assert.Equal(t, int64(0), b.PatchesApplied)
}

func TestIncrement_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Increment(ctx, 1, DocsGenerated, 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), today(t, s, 1).DocsGenerated)
}

func TestRecordOutcome_Rates(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, time.Now())

	require.NoError(t, s.RecordOutcome(ctx, 1, true))
	b := today(t, s, 1)
	// First event of the day: 1 / (0 + 0 + 1).
	assert.InDelta(t, 1.0, b.SuccessRate, 1e-9)
	assert.InDelta(t, 0.0, b.FailureRate, 1e-9)

	require.NoError(t, s.RecordOutcome(ctx, 1, false))
	require.NoError(t, s.RecordOutcome(ctx, 1, true))
	require.NoError(t, s.RecordOutcome(ctx, 1, true))

	b = today(t, s, 1)
	assert.Equal(t, int64(3), b.SuccessCount)
	assert.Equal(t, int64(1), b.FailureCount)
	assert.InDelta(t, 0.75, b.SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, b.FailureRate, 1e-9)
}

func TestRecordDiffSize_RunningAverage(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, time.Now())

	require.NoError(t, s.RecordDiffSize(ctx, 1, 100))
	require.NoError(t, s.RecordDiffSize(ctx, 1, 300))
	require.NoError(t, s.RecordDiffSize(ctx, 1, 200))

	b := today(t, s, 1)
	assert.InDelta(t, 200.0, b.AverageDiffSize, 1e-9)
	assert.Equal(t, int64(3), b.DiffSamples)
}

func TestRangeAndSummarize(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, base)

	for i := 0; i < 5; i++ {
		s.now = func() time.Time { return base.AddDate(0, 0, -i) }
		s.Track(ctx, 1, DocsGenerated, 2)
		require.NoError(t, s.RecordOutcome(ctx, 1, i%2 == 0))
	}
	s.Track(ctx, 2, DocsGenerated, 100)
	s.now = func() time.Time { return base }

	buckets, err := s.Range(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "2024-03-10", buckets[0].Date)
	assert.Equal(t, "2024-03-08", buckets[2].Date)

	sum := Summarize(3, buckets)
	assert.Equal(t, int64(6), sum.DocsGenerated)
	assert.Equal(t, int64(2), sum.SuccessCount)
	assert.Equal(t, int64(1), sum.FailureCount)
	assert.InDelta(t, 2.0/3.0, sum.SuccessRate, 1e-9)

	all, err := s.Range(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(t, "2024-03-09", DateKey(time.Date(2024, 3, 10, 2, 0, 0, 0, loc)))
}
