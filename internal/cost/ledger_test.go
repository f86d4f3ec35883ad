package cost

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"episode-generator/internal/models"
)

func TestLedger_AuthorizeDeniesPerJobLimit(t *testing.T) {
	l := NewLedger(50, 0.0001)

	_, err := l.Authorize("job-1", models.StageSummarize, 1, 0.002)
	require.ErrorIs(t, err, ErrJobLimit)
	require.ErrorIs(t, err, ErrLimitExceeded)
	assert.Zero(t, l.Outstanding())
}

func TestLedger_AuthorizeDeniesDailyLimit(t *testing.T) {
	l := NewLedger(1, 5)

	p, err := l.Authorize("job-1", models.StageSummarize, 1, 0.8)
	require.NoError(t, err)
	_, err = l.Commit(context.Background(), p, 0.8)
	require.NoError(t, err)

	_, err = l.Authorize("job-2", models.StageSummarize, 1, 0.3)
	require.ErrorIs(t, err, ErrDailyLimit)
}

func TestLedger_CommitIsIdempotent(t *testing.T) {
	l := NewLedger(50, 5)
	ctx := context.Background()

	p, err := l.Authorize("job-1", models.StageGenerateAudio, 1, 0.5)
	require.NoError(t, err)

	charged, err := l.Commit(ctx, p, 0.4)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, charged, 1e-9)

	charged, err = l.Commit(ctx, p, 0.4)
	require.ErrorIs(t, err, ErrAlreadyCommitted)
	assert.Zero(t, charged)
	assert.InDelta(t, 0.4, l.DailyTotal(), 1e-9)
	assert.InDelta(t, 0.4, l.JobTotal("job-1"), 1e-9)

	_, err = l.Authorize("job-1", models.StageGenerateAudio, 1, 0.1)
	require.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestLedger_CommitClampsOverrun(t *testing.T) {
	l := NewLedger(50, 1)
	p, err := l.Authorize("job-1", models.StageSummarize, 1, 0.2)
	require.NoError(t, err)

	charged, err := l.Commit(context.Background(), p, 0.9)
	require.ErrorIs(t, err, ErrOverrun)
	assert.InDelta(t, 0.2, charged, 1e-9)
	assert.InDelta(t, 0.2, l.JobTotal("job-1"), 1e-9)
}

func TestLedger_ReleaseFreesReservation(t *testing.T) {
	l := NewLedger(1, 1)
	p, err := l.Authorize("job-1", models.StageScrape, 1, 0.9)
	require.NoError(t, err)

	_, err = l.Authorize("job-2", models.StageScrape, 1, 0.5)
	require.ErrorIs(t, err, ErrDailyLimit)

	l.Release(p)
	_, err = l.Authorize("job-2", models.StageScrape, 1, 0.5)
	require.NoError(t, err)
}

func TestLedger_DailyBucketResetsAtMidnight(t *testing.T) {
	now := time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC)
	l := NewLedger(1, 5, WithClock(func() time.Time { return now }))

	p, err := l.Authorize("job-1", models.StageSummarize, 1, 1)
	require.NoError(t, err)
	_, err = l.Commit(context.Background(), p, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1, l.DailyTotal(), 1e-9)

	now = now.Add(2 * time.Minute)
	assert.Zero(t, l.DailyTotal())
	assert.InDelta(t, 1, l.JobTotal("job-1"), 1e-9, "per-job spend never resets")
}

func TestLedger_ConcurrentCommitsNeverExceedLimits(t *testing.T) {
	const daily, perJob = 1.0, 0.3
	l := NewLedger(daily, perJob)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := []string{"a", "b", "c", "d", "e"}[i%5]
			p, err := l.Authorize(job, models.StageSummarize, i, 0.07)
			if err != nil {
				return
			}
			_, _ = l.Commit(ctx, p, 0.07)
			assert.LessOrEqual(t, l.DailyTotal(), daily+1e-9)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, l.DailyTotal(), daily+1e-9)
	for _, job := range []string{"a", "b", "c", "d", "e"} {
		assert.LessOrEqual(t, l.JobTotal(job), perJob+1e-9)
	}
}

func TestRates(t *testing.T) {
	r := Rates{CostPerThousandTokens: 0.002, CostPerCharacter: 0.000015, UploadFlatFee: 0.01, UploadCostPerMB: 1}

	assert.InDelta(t, (500.0+250.0)/1000*0.002, r.Summarization(2000, 1000), 1e-12)
	assert.InDelta(t, 0.015, r.Synthesis(1000), 1e-12)
	assert.InDelta(t, 0.01+0.5, r.Upload(512*1024), 1e-12)
	assert.Zero(t, r.Scrape())
}
