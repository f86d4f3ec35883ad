package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"episode-generator/internal/cost"
	"episode-generator/internal/events"
	"episode-generator/internal/models"
	"episode-generator/internal/stages"
	"episode-generator/internal/store"
)

// fakeStage is a scriptable executor. fn receives the 1-based call count.
type fakeStage struct {
	stage     models.Stage
	projected float64
	cost      float64

	mu    sync.Mutex
	calls int
	times []time.Time
	fn    func(call int, payload models.Payload) (stages.Result, error)
}

func (f *fakeStage) Stage() models.Stage { return f.stage }

func (f *fakeStage) Project(models.Payload, stages.Meta) float64 { return f.projected }

func (f *fakeStage) Execute(_ context.Context, payload models.Payload, _ stages.Meta) (stages.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.times = append(f.times, time.Now())
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, payload)
	}
	return stages.Result{Payload: payload, Cost: f.cost}, nil
}

func (f *fakeStage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStage) Times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

func passStages() (*fakeStage, *fakeStage, *fakeStage, *fakeStage) {
	return &fakeStage{stage: models.StageScrape},
		&fakeStage{stage: models.StageSummarize, projected: 0.01, cost: 0.005},
		&fakeStage{stage: models.StageGenerateAudio, projected: 0.02, cost: 0.01},
		&fakeStage{stage: models.StageUpload, projected: 0.001, cost: 0.0005}
}

// recordingArchive keeps every snapshot in arrival order.
type recordingArchive struct {
	mu    sync.Mutex
	items []models.QueueItem
}

func (a *recordingArchive) SaveItem(_ context.Context, item models.QueueItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, item)
	return nil
}

func (a *recordingArchive) history(id string) []models.QueueItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.QueueItem
	for _, it := range a.items {
		if it.ID == id {
			out = append(out, it)
		}
	}
	return out
}

type harness struct {
	p       *QueueProcessor
	store   *store.Memory
	ledger  *cost.Ledger
	archive *recordingArchive
	logs    *observer.ObservedLogs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollingInterval = 5 * time.Millisecond
	cfg.BackoffInitial = 10 * time.Millisecond
	cfg.BackoffMax = 200 * time.Millisecond
	cfg.StageTimeout = 5 * time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config, execs ...stages.Executor) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	h := &harness{
		store:   store.NewMemory(nil),
		ledger:  cost.NewLedger(cfg.DailyLimit, cfg.PerJobLimit),
		archive: &recordingArchive{},
		logs:    logs,
	}
	p, err := New(cfg, Deps{
		Store:     h.store,
		Ledger:    h.ledger,
		Executors: stages.NewSet(execs...),
		Events:    events.New(logger),
		Archive:   h.archive,
		Logger:    logger,
	})
	require.NoError(t, err)
	h.p = p
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return h
}

func (h *harness) enqueue(t *testing.T, content string) models.QueueItem {
	t.Helper()
	item, err := h.p.Enqueue(EnqueueRequest{EpisodeTitle: "Transit budget", SourceName: "city-news", Content: content})
	require.NoError(t, err)
	return item
}

func (h *harness) waitStatus(t *testing.T, id string, want models.Status) models.QueueItem {
	t.Helper()
	var item models.QueueItem
	require.Eventually(t, func() bool {
		var err error
		item, err = h.store.Get(id)
		return err == nil && item.Status == want && !item.CheckedOut
	}, 5*time.Second, 2*time.Millisecond, "item never reached %s", want)
	return item
}

func (h *harness) startProcessor(t *testing.T) {
	t.Helper()
	require.True(t, h.p.Start().Success)
}

// stopAndFlush stops the loop and waits for the archive to catch up.
func (h *harness) stopAndFlush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, h.p.Close(ctx).Success)
}

var errTransient = errors.New("upstream unavailable")

func transientFailure(stage models.Stage) error {
	return &stages.Failure{Kind: models.FailureTransient, Stage: stage, Message: errTransient.Error(), Err: errTransient}
}

func articleOfLength(n int) string {
	base := "The city council approved a new transit budget after a long debate about bus routes and fares. "
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(base)
	}
	return b.String()[:n]
}
