package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "episodes_enqueued_total", Help: "Total enqueued episode requests"})
	StageSuccess     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "episode_stage_success_total", Help: "Stage attempts that succeeded"}, []string{"stage"})
	StageFailures    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "episode_stage_failures_total", Help: "Stage attempts that failed"}, []string{"stage", "kind"})
	Completed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "episodes_completed_total", Help: "Episodes that reached completed"})
	GiveUps          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "episodes_failed_total", Help: "Episodes marked failed"}, []string{"kind"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "episode_rate_limit_rejects_total", Help: "Enqueue requests rejected by the rate limiter"})
	CostDenials      = prometheus.NewCounter(prometheus.CounterOpts{Name: "episode_cost_denials_total", Help: "Stage admissions denied by the cost ledger"})
	CostCommitted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "episode_cost_committed_total", Help: "Spend committed by stage"}, []string{"stage"})
	DailySpendGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "episode_cost_today", Help: "Spend committed since the start of the cost day"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "episode_queue_depth", Help: "Non-terminal items waiting for admission"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "episode_inflight", Help: "Stage executions currently running"})
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			StageSuccess,
			StageFailures,
			Completed,
			GiveUps,
			RateLimitRejects,
			CostDenials,
			CostCommitted,
			DailySpendGauge,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
