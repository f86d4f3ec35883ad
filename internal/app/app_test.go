package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"episode-generator/internal/config"
	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/processor"
	"episode-generator/internal/stages"
	"episode-generator/internal/store"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:       "test",
		LogLevel:  "debug",
		OutputDir: t.TempDir(),
		Queue: config.QueueConfig{
			MaxConcurrentJobs: 2,
			MaxRetries:        1,
			PollingInterval:   50 * time.Millisecond,
		},
		Cost: config.CostConfig{DailyLimit: 10, PerJobLimit: 1},
	}
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := baseConfig(t)
	cfg.LogLevel = "warn"
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	cfg.LogLevel = "nonsense"
	logger, err = NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestBuildWithoutBackends(t *testing.T) {
	rt, err := Build(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Limiter)
	require.NotNil(t, rt.Processor)
	assert.Equal(t, 2, rt.Processor.Config().MaxConcurrentJobs)

	item, err := rt.Processor.Enqueue(processor.EnqueueRequest{EpisodeTitle: "t", Content: "some text"})
	require.NoError(t, err)
	assert.Equal(t, "manual", item.SourceName)
}

func TestBuildWithRedisRestoresSpend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.RedisAddr = mr.Addr()
	cfg.EnqueueRateCapacity = 1
	cfg.EnqueueRateRefill = 0.01

	day := time.Now().UTC().Format("2006-01-02")
	mr.Set("cost:daily:"+day, "2.5")

	rt, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Limiter)
	first, err := rt.Limiter.Allow(context.Background(), "feed")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := rt.Limiter.Allow(context.Background(), "feed")
	require.NoError(t, err)
	assert.False(t, second.Allowed)

	assert.InDelta(t, 2.5, rt.Ledger.DailyTotal(), 1e-9)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := baseConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

type blockingStage struct {
	stage   models.Stage
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStage) Stage() models.Stage { return b.stage }

func (b *blockingStage) Project(models.Payload, stages.Meta) float64 { return 0 }

func (b *blockingStage) Execute(_ context.Context, p models.Payload, _ stages.Meta) (stages.Result, error) {
	if b.entered != nil {
		close(b.entered)
		<-b.release
	}
	return stages.Result{Payload: p}, nil
}

func TestShutdownKeepsBackendsWhileDraining(t *testing.T) {
	scrape := &blockingStage{stage: models.StageScrape, entered: make(chan struct{}), release: make(chan struct{})}
	proc, err := processor.New(processor.DefaultConfig(), processor.Deps{
		Store:  store.NewMemory(nil),
		Ledger: cost.NewLedger(10, 1),
		Executors: stages.NewSet(
			scrape,
			&blockingStage{stage: models.StageSummarize},
			&blockingStage{stage: models.StageGenerateAudio},
			&blockingStage{stage: models.StageUpload},
		),
	})
	require.NoError(t, err)

	closed := 0
	rt := &Runtime{Processor: proc, logger: zap.NewNop(), closers: []func(){func() { closed++ }}}

	_, err = proc.Enqueue(processor.EnqueueRequest{EpisodeTitle: "t", Content: "body"})
	require.NoError(t, err)
	require.True(t, proc.Start().Success)
	<-scrape.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, rt.Shutdown(ctx))
	assert.Equal(t, 0, closed)

	close(scrape.release)
	done, cancelDone := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDone()
	assert.True(t, rt.Shutdown(done))
	assert.Equal(t, 1, closed)
}
