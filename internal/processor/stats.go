package processor

import (
	"sync"
	"time"

	"episode-generator/internal/models"
)

// defaultStageDurations seed the estimates until real timings exist.
var defaultStageDurations = map[models.Stage]time.Duration{
	models.StageScrape:        10 * time.Second,
	models.StageSummarize:     30 * time.Second,
	models.StageGenerateAudio: 60 * time.Second,
	models.StageUpload:        15 * time.Second,
}

// durations keeps a running mean of observed stage execution times.
type durations struct {
	mu    sync.RWMutex
	total map[models.Stage]time.Duration
	count map[models.Stage]int
}

func newDurations() *durations {
	return &durations{total: map[models.Stage]time.Duration{}, count: map[models.Stage]int{}}
}

func (d *durations) observe(stage models.Stage, took time.Duration) {
	if took < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total[stage] += took
	d.count[stage]++
}

func (d *durations) average(stage models.Stage) time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n := d.count[stage]; n > 0 {
		return d.total[stage] / time.Duration(n)
	}
	return defaultStageDurations[stage]
}

// estimates computes time remaining for every non-terminal item: the mean
// duration of each remaining stage, minus time already spent in a running
// stage, plus any backoff still to wait.
func (p *QueueProcessor) estimates(items []models.QueueItem, now time.Time) map[string]time.Duration {
	out := make(map[string]time.Duration, len(items))
	for _, it := range items {
		stage, ok := it.Status.Stage()
		if !ok {
			continue
		}
		var eta time.Duration
		for i, st := range stage.Remaining() {
			avg := p.durations.average(st)
			if i == 0 && it.CheckedOut {
				// checkout bumps updatedAt, so it marks the stage start
				avg -= now.Sub(it.UpdatedAt)
				if avg < 0 {
					avg = 0
				}
			}
			eta += avg
		}
		if wait := it.RetryReadyAt().Sub(now); !it.CheckedOut && wait > 0 {
			eta += wait
		}
		out[it.ID] = eta.Round(time.Second)
	}
	return out
}

// Stats derives the dashboard aggregate from the job store and ledger.
// Success rate and average processing time cover items that finished
// within the stats window; the success rate is a fraction in [0,1].
func (p *QueueProcessor) Stats() models.GenerationStats {
	window := p.Config().StatsWindow
	now := p.now()
	since := now.Add(-window)

	var stats models.GenerationStats
	var completed, failed int
	var busy time.Duration
	for _, it := range p.store.Snapshot() {
		if !it.Status.Terminal() {
			stats.TotalInQueue++
			if it.CheckedOut {
				stats.CurrentlyProcessing++
			}
			continue
		}
		if it.CompletedAt == nil || it.CompletedAt.Before(since) {
			continue
		}
		if it.Status == models.StatusFailed {
			failed++
			continue
		}
		completed++
		start := it.CreatedAt
		if it.StartedAt != nil {
			start = *it.StartedAt
		}
		busy += it.CompletedAt.Sub(start)
	}
	if completed+failed > 0 {
		stats.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if completed > 0 {
		stats.AverageProcessingTime = busy / time.Duration(completed)
	}
	stats.TotalCostToday = p.ledger.DailyTotal()
	return stats
}

// Status is the control-surface view of the processor.
type Status struct {
	Running       bool                   `json:"running"`
	Paused        bool                   `json:"paused"`
	Config        ConfigView             `json:"config"`
	PendingConfig *ConfigView            `json:"pending_config,omitempty"`
	Stats         models.GenerationStats `json:"stats"`
	Outstanding   float64                `json:"outstanding_cost"`
}

// Status returns the run state, configuration and stats snapshot.
func (p *QueueProcessor) Status() Status {
	st := Status{
		Running:     p.Running(),
		Paused:      p.Paused(),
		Config:      p.Config().View(),
		Stats:       p.Stats(),
		Outstanding: p.ledger.Outstanding(),
	}
	if pending, ok := p.PendingConfig(); ok {
		v := pending.View()
		st.PendingConfig = &v
	}
	return st
}
