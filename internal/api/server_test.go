package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/processor"
	"episode-generator/internal/ratelimit"
	"episode-generator/internal/stages"
	"episode-generator/internal/store"
	"episode-generator/internal/telemetry"
)

type passStage struct{ stage models.Stage }

func (p passStage) Stage() models.Stage { return p.stage }

func (p passStage) Project(models.Payload, stages.Meta) float64 { return 0.001 }

func (p passStage) Execute(_ context.Context, pl models.Payload, _ stages.Meta) (stages.Result, error) {
	return stages.Result{Payload: pl, Cost: 0.001}, nil
}

func newTestServer(t *testing.T, limiter Limiter) (*httptest.Server, *processor.QueueProcessor) {
	t.Helper()
	cfg := processor.DefaultConfig()
	cfg.PollingInterval = 5 * time.Millisecond
	var execs []stages.Executor
	for _, st := range models.Stages {
		execs = append(execs, passStage{stage: st})
	}
	proc, err := processor.New(cfg, processor.Deps{
		Store:     store.NewMemory(nil),
		Ledger:    cost.NewLedger(cfg.DailyLimit, cfg.PerJobLimit),
		Executors: stages.NewSet(execs...),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(New(proc, limiter, telemetry.Handler(), nil).Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		proc.Close(ctx)
	})
	return srv, proc
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestQueueLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var item models.QueueItem
	resp := doJSON(t, http.MethodPost, srv.URL+"/queue", map[string]any{
		"episode_title": "Transit budget",
		"source_name":   "city-news",
		"content":       "The council approved the transit budget.",
	}, &item)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, models.StatusPending, item.Status)

	var result models.ControlResult
	doJSON(t, http.MethodPost, srv.URL+"/processor/start", nil, &result)
	assert.True(t, result.Success)

	require.Eventually(t, func() bool {
		var got struct {
			Status  models.Status  `json:"status"`
			Payload models.Payload `json:"payload"`
		}
		doJSON(t, http.MethodGet, srv.URL+"/queue/"+item.ID, nil, &got)
		return got.Status == models.StatusCompleted && got.Payload.RawContent != ""
	}, 5*time.Second, 10*time.Millisecond)

	var list struct {
		Items []models.QueueItem `json:"items"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/queue?status=completed", nil, &list)
	require.Len(t, list.Items, 1)

	var stats models.GenerationStats
	doJSON(t, http.MethodGet, srv.URL+"/processor/stats", nil, &stats)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.InDelta(t, 0.004, stats.TotalCostToday, 1e-9)

	var logs struct {
		Logs []models.LogEvent `json:"logs"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/processor/logs?level=info&limit=2", nil, &logs)
	assert.Len(t, logs.Logs, 2)

	doJSON(t, http.MethodPost, srv.URL+"/processor/stop", nil, &result)
	assert.True(t, result.Success)
}

func TestEnqueueValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/queue", map[string]any{"content": "no title"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/queue/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/queue?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/processor/logs?level=debug", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestControlResultsAreDiscriminated(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var result models.ControlResult
	resp := doJSON(t, http.MethodPost, srv.URL+"/processor/pause", nil, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, result.Success)
	assert.Equal(t, "processor is not running", result.Message)

	doJSON(t, http.MethodPost, srv.URL+"/queue/missing/process", nil, &result)
	assert.False(t, result.Success)
}

func TestConfigEndpoints(t *testing.T) {
	srv, proc := newTestServer(t, nil)
	require.True(t, proc.Start().Success)

	var result models.ControlResult
	doJSON(t, http.MethodPut, srv.URL+"/processor/config", map[string]any{"maxRetries": 1, "pollingInterval": 250}, &result)
	assert.True(t, result.Success)

	var cfg configResponse
	doJSON(t, http.MethodGet, srv.URL+"/processor/config", nil, &cfg)
	assert.Equal(t, 3, cfg.Active.MaxRetries)
	require.NotNil(t, cfg.Pending)
	assert.Equal(t, 1, cfg.Pending.MaxRetries)
	assert.Equal(t, int64(250), cfg.Pending.PollingInterval)

	var status processor.Status
	doJSON(t, http.MethodGet, srv.URL+"/processor/status", nil, &status)
	assert.True(t, status.Running)
	assert.NotNil(t, status.PendingConfig)
}

func TestEnqueueRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := ratelimit.NewTokenBucket(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "enqueue:", 1, 0.01, time.Minute)
	srv, _ := newTestServer(t, limiter)
	rejected := testutil.ToFloat64(telemetry.RateLimitRejects)

	body := map[string]any{"episode_title": "t", "source_name": "feed", "content": "text"}
	resp := doJSON(t, http.MethodPost, srv.URL+"/queue", body, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, rejected, testutil.ToFloat64(telemetry.RateLimitRejects))

	resp = doJSON(t, http.MethodPost, srv.URL+"/queue", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, rejected+1, testutil.ToFloat64(telemetry.RateLimitRejects))
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
