package cost

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"episode-generator/internal/models"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisSpendStore_RecordsEachPermitOnce(t *testing.T) {
	ctx := context.Background()
	store := NewRedisSpendStore(newTestRedis(t), time.Hour)

	added, err := store.RecordCommit(ctx, "2026-10-15", "job-1/summarize/1", 0.25)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.RecordCommit(ctx, "2026-10-15", "job-1/summarize/1", 0.25)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = store.RecordCommit(ctx, "2026-10-15", "job-2/summarize/1", 0.5)
	require.NoError(t, err)
	assert.True(t, added)

	total, err := store.LoadDaily(ctx, "2026-10-15")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)

	total, err = store.LoadDaily(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLedger_RestoreFromRedis(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	now := func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) }

	first := NewLedger(1, 1, WithClock(now), WithSpendStore(NewRedisSpendStore(client, time.Hour)))
	p, err := first.Authorize("job-1", models.StageSummarize, 1, 0.6)
	require.NoError(t, err)
	_, err = first.Commit(ctx, p, 0.6)
	require.NoError(t, err)

	restarted := NewLedger(1, 1, WithClock(now), WithSpendStore(NewRedisSpendStore(client, time.Hour)))
	require.NoError(t, restarted.Restore(ctx))
	assert.InDelta(t, 0.6, restarted.DailyTotal(), 1e-9)

	_, err = restarted.Authorize("job-2", models.StageSummarize, 1, 0.5)
	require.ErrorIs(t, err, ErrDailyLimit)
}
