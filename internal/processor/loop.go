package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/stages"
	"episode-generator/internal/telemetry"
)

const commitTimeout = 5 * time.Second

// outcome is what a finished stage execution reports back to the loop.
type outcome struct {
	itemID   string
	stage    models.Stage
	meta     stages.Meta
	permit   cost.Permit
	result   stages.Result
	err      error
	started  time.Time
	finished time.Time
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("stage panicked: %v", e.value)
}

// loop is the only writer of queue item state while the run is active.
func (p *QueueProcessor) loop(r *run) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.PollingInterval)
	defer ticker.Stop()

	p.tick(r)
	for {
		select {
		case <-r.stop:
			for len(r.active) > 0 {
				p.complete(r, <-r.results)
			}
			telemetry.InFlightGauge.Set(0)
			return
		case out := <-r.results:
			p.complete(r, out)
		case req := <-r.force:
			req.reply <- p.force(r, req.id)
		case <-ticker.C:
			p.tick(r)
		}
	}
}

// tick refreshes estimates and admits eligible items, oldest updatedAt first.
func (p *QueueProcessor) tick(r *run) {
	now := p.now()
	items := p.store.Snapshot()
	p.store.SetEstimates(p.estimates(items, now))

	var depth int
	candidates := make([]models.QueueItem, 0, len(items))
	for _, it := range items {
		if it.Status.Terminal() || it.CheckedOut {
			continue
		}
		depth++
		if now.Before(it.RetryReadyAt()) {
			continue
		}
		candidates = append(candidates, it)
	}
	telemetry.QueueDepthGauge.Set(float64(depth))
	telemetry.DailySpendGauge.Set(p.ledger.DailyTotal())

	if p.paused.Load() {
		return
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
	})

	free := r.cfg.MaxConcurrentJobs - len(r.active)
	for _, it := range candidates {
		if free <= 0 {
			break
		}
		if _, busy := r.active[it.ID]; busy {
			continue
		}
		if ok, _ := p.dispatch(r, it.ID); ok {
			free--
		}
	}
}

// force runs the admission checks for one item outside the polling order.
func (p *QueueProcessor) force(r *run, id string) models.ControlResult {
	item, err := p.store.Get(id)
	if err != nil {
		return models.ControlResult{Success: false, Message: err.Error()}
	}
	switch {
	case item.Status.Terminal():
		return models.ControlResult{Success: false, Message: fmt.Sprintf("item is %s", item.Status)}
	case item.CheckedOut:
		return models.ControlResult{Success: false, Message: "item is already in flight"}
	case p.paused.Load():
		return models.ControlResult{Success: false, Message: "processor is paused"}
	case len(r.active) >= r.cfg.MaxConcurrentJobs:
		return models.ControlResult{Success: false, Message: fmt.Sprintf("no free slot: %d of %d in flight", len(r.active), r.cfg.MaxConcurrentJobs)}
	}
	if ready := item.RetryReadyAt(); p.now().Before(ready) {
		return models.ControlResult{Success: false, Message: fmt.Sprintf("item is backing off until %s", ready.UTC().Format(time.RFC3339))}
	}
	ok, msg := p.dispatch(r, id)
	return models.ControlResult{Success: ok, Message: msg}
}

// dispatch authorizes the projected cost of the item's next stage, checks
// the item out and starts the executor. A cost denial fails the item.
func (p *QueueProcessor) dispatch(r *run, id string) (bool, string) {
	item, err := p.store.Get(id)
	if err != nil {
		return false, err.Error()
	}
	stage, ok := item.Status.Stage()
	if !ok {
		return false, fmt.Sprintf("item is %s", item.Status)
	}
	exec := p.executors[stage]
	now := p.now()
	meta := stages.Meta{
		ItemID:     item.ID,
		Title:      item.EpisodeTitle,
		SourceName: item.SourceName,
		SourceURL:  item.SourceURL,
		Options:    item.Options,
		Attempt:    item.Attempts[stage] + 1,
		Now:        now,
	}

	projected := exec.Project(item.Payload, meta)
	permit, err := p.ledger.Authorize(item.ID, stage, meta.Attempt, projected)
	if err != nil {
		if errors.Is(err, cost.ErrLimitExceeded) {
			telemetry.CostDenials.Inc()
			p.giveUp(item.ID, stage, &stages.Failure{
				Kind:    models.FailureCostLimit,
				Stage:   stage,
				Message: err.Error(),
				Err:     err,
			}, meta.Attempt)
			return false, "cost limit exceeded; item failed"
		}
		p.events.Error(item.ID, fmt.Sprintf("authorize %s: %v", stage, err))
		return false, err.Error()
	}

	checked, err := p.store.Update(item.ID, func(q *models.QueueItem) error {
		if q.CheckedOut {
			return errors.New("already checked out")
		}
		if q.Status != stage.Status() {
			q.Status = stage.Status()
			q.Progress = stage.StartProgress()
		}
		if q.StartedAt == nil {
			q.StartedAt = &now
		}
		q.CheckedOut = true
		q.Admissions++
		q.RetryDelay = 0
		return nil
	})
	if err != nil {
		p.ledger.Release(permit)
		p.events.Error(item.ID, fmt.Sprintf("check out for %s: %v", stage, err))
		return false, err.Error()
	}
	p.archive(checked)

	r.active[item.ID] = struct{}{}
	telemetry.InFlightGauge.Inc()
	p.logger.Debug("stage dispatched",
		zap.String("item_id", item.ID),
		zap.String("stage", string(stage)),
		zap.Int("attempt", meta.Attempt),
		zap.Float64("projected_cost", projected))

	go p.execute(r, exec, item.Payload, meta, permit)
	return true, fmt.Sprintf("dispatched %s (attempt %d)", stage, meta.Attempt)
}

// execute runs one stage with the per-stage timeout and reports back. A
// panic is converted to an error so it cannot take down the loop.
func (p *QueueProcessor) execute(r *run, exec stages.Executor, payload models.Payload, meta stages.Meta, permit cost.Permit) {
	out := outcome{itemID: meta.ItemID, stage: exec.Stage(), meta: meta, permit: permit, started: p.now()}
	func() {
		defer func() {
			if v := recover(); v != nil {
				out.err = &panicError{value: v, stack: debug.Stack()}
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StageTimeout)
		defer cancel()
		out.result, out.err = exec.Execute(ctx, payload, meta)
	}()
	out.finished = p.now()
	r.results <- out
}

func (p *QueueProcessor) complete(r *run, out outcome) {
	delete(r.active, out.itemID)
	telemetry.InFlightGauge.Dec()
	p.durations.observe(out.stage, out.finished.Sub(out.started))

	if out.err != nil {
		p.fail(r, out)
		return
	}
	p.succeed(out)
}

func (p *QueueProcessor) commit(out outcome, amount float64) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	charged, err := p.ledger.Commit(ctx, out.permit, amount)
	switch {
	case errors.Is(err, cost.ErrOverrun):
		p.events.Warn(out.itemID, fmt.Sprintf("%s cost above its projection; charge capped at %.6f", out.stage, charged),
			zap.Error(err))
	case err != nil:
		p.events.Error(out.itemID, fmt.Sprintf("commit %s cost: %v", out.stage, err))
	}
	if charged > 0 {
		telemetry.CostCommitted.WithLabelValues(string(out.stage)).Add(charged)
	}
	return charged
}

func (p *QueueProcessor) succeed(out outcome) {
	charged := p.commit(out, out.result.Cost)
	next := out.stage.Next()
	now := p.now()

	updated, err := p.store.Update(out.itemID, func(q *models.QueueItem) error {
		q.CheckedOut = false
		q.CostToDate += charged
		q.Status = next
		if st, ok := next.Stage(); ok {
			q.Progress = st.StartProgress()
		} else {
			q.Progress = 100
		}
		q.Attempts = make(map[models.Stage]int)
		q.LastError = ""
		q.FailureKind = ""
		q.FailedStage = ""
		q.RetryDelay = 0
		q.Payload = out.result.Payload
		q.EpisodeURL = out.result.Payload.EpisodeURL
		q.ArtworkURL = out.result.Payload.ArtworkURL
		if next == models.StatusCompleted {
			q.CompletedAt = &now
			q.EstimatedTimeRemaining = 0
		}
		return nil
	})
	if err != nil {
		p.events.Error(out.itemID, fmt.Sprintf("record %s success: %v", out.stage, err))
		return
	}
	p.archive(updated)
	telemetry.StageSuccess.WithLabelValues(string(out.stage)).Inc()

	for _, note := range out.result.Notes {
		p.events.Info(out.itemID, fmt.Sprintf("%s: %s", out.stage, note))
	}
	if next == models.StatusCompleted {
		telemetry.Completed.Inc()
		p.events.Info(out.itemID, fmt.Sprintf("episode completed: %s (cost %.4f)", updated.EpisodeURL, updated.CostToDate))
		return
	}
	p.events.Info(out.itemID, fmt.Sprintf("%s completed in %s; next %s", out.stage,
		out.finished.Sub(out.started).Round(time.Millisecond), next),
		zap.Float64("cost", charged))
}

// fail classifies the error, settles the permit and either schedules a
// retry of the same stage or marks the item failed.
func (p *QueueProcessor) fail(r *run, out outcome) {
	f := stages.Classify(out.stage, out.err)
	var charged float64
	if f.Cost > 0 {
		charged = p.commit(out, f.Cost)
	} else {
		p.ledger.Release(out.permit)
	}
	telemetry.StageFailures.WithLabelValues(string(out.stage), string(f.Kind)).Inc()

	attempt := out.meta.Attempt
	decision := r.policy.ShouldRetry(attempt, f.Kind, f.RetryAfter)
	if !decision.Retry {
		p.giveUpCharged(out.itemID, out.stage, f, attempt, charged)
		return
	}

	updated, err := p.store.Update(out.itemID, func(q *models.QueueItem) error {
		q.CheckedOut = false
		q.CostToDate += charged
		q.Attempts[out.stage] = attempt
		q.LastError = f.Message
		q.FailureKind = f.Kind
		q.FailedStage = out.stage
		q.RetryDelay = decision.Delay
		return nil
	})
	if err != nil {
		p.events.Error(out.itemID, fmt.Sprintf("record %s failure: %v", out.stage, err))
		return
	}
	p.archive(updated)

	msg := fmt.Sprintf("%s attempt %d failed (%s); retrying in %s: %s",
		out.stage, attempt, f.Kind, decision.Delay, f.Message)
	var pe *panicError
	switch {
	case errors.As(out.err, &pe):
		p.events.Error(out.itemID, msg, zap.ByteString("stack", pe.stack))
	case f.Kind == models.FailureUnexpected:
		p.events.Error(out.itemID, msg, zap.Error(out.err))
	default:
		p.events.Warn(out.itemID, msg)
	}
}

func (p *QueueProcessor) giveUp(id string, stage models.Stage, f *stages.Failure, attempt int) {
	p.giveUpCharged(id, stage, f, attempt, 0)
}

// giveUpCharged marks the item failed. Domain failures are reported as
// warnings; exhausted retries of provider or unexpected errors as errors.
func (p *QueueProcessor) giveUpCharged(id string, stage models.Stage, f *stages.Failure, attempt int, charged float64) {
	now := p.now()
	updated, err := p.store.Update(id, func(q *models.QueueItem) error {
		q.CheckedOut = false
		q.CostToDate += charged
		q.Attempts[stage] = attempt
		q.Status = models.StatusFailed
		q.LastError = f.Message
		q.FailureKind = f.Kind
		q.FailedStage = stage
		q.RetryDelay = 0
		q.EstimatedTimeRemaining = 0
		q.CompletedAt = &now
		return nil
	})
	if err != nil {
		p.events.Error(id, fmt.Sprintf("record %s give-up: %v", stage, err))
		return
	}
	p.archive(updated)
	telemetry.GiveUps.WithLabelValues(string(f.Kind)).Inc()

	if f.Kind.Retryable() {
		fields := []zap.Field{zap.Error(f)}
		var pe *panicError
		if errors.As(f.Err, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.stack))
		}
		p.events.Error(id, fmt.Sprintf("%s failed permanently after %d attempts (%s): %s",
			stage, attempt, f.Kind, f.Message), fields...)
		return
	}
	p.events.Warn(id, fmt.Sprintf("%s failed (%s): %s", stage, f.Kind, f.Message))
}
