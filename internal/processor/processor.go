// Package processor schedules episode generation: it admits queue items
// under a concurrency bound and the cost ledger, runs their next stage,
// and applies the retry policy to failures.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"episode-generator/internal/cost"
	"episode-generator/internal/events"
	"episode-generator/internal/models"
	"episode-generator/internal/retry"
	"episode-generator/internal/stages"
	"episode-generator/internal/store"
	"episode-generator/internal/telemetry"
)

var ErrInvalidRequest = errors.New("invalid enqueue request")

// Deps are the collaborators a QueueProcessor drives. Events, Archive,
// Logger and Now are optional.
type Deps struct {
	Store     *store.Memory
	Ledger    *cost.Ledger
	Executors stages.Set
	Events    *events.Log
	Archive   Archive
	Logger    *zap.Logger
	Now       func() time.Time
}

// QueueProcessor owns the poll loop. Build one with New; the caller that
// wires the control surface owns it.
type QueueProcessor struct {
	store     *store.Memory
	ledger    *cost.Ledger
	executors stages.Set
	events    *events.Log
	logger    *zap.Logger
	now       func() time.Time
	archiver  *archiver
	durations *durations

	mu      sync.Mutex
	cfg     Config
	pending *Config
	run     *run
	paused  atomic.Bool
}

// run is the state of one Start..Stop cycle. active is owned by the loop goroutine.
type run struct {
	cfg      Config
	policy   retry.Policy
	results  chan outcome
	force    chan forceRequest
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	active   map[string]struct{}
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

type forceRequest struct {
	id    string
	reply chan models.ControlResult
}

// New validates deps and builds a stopped processor.
func New(cfg Config, deps Deps) (*QueueProcessor, error) {
	if deps.Store == nil || deps.Ledger == nil {
		return nil, errors.New("processor: store and ledger are required")
	}
	if missing := deps.Executors.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("processor: no executor for stages %v", missing)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.New(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	p := &QueueProcessor{
		store:     deps.Store,
		ledger:    deps.Ledger,
		executors: deps.Executors,
		events:    deps.Events,
		logger:    deps.Logger,
		now:       deps.Now,
		durations: newDurations(),
		cfg:       cfg.withDefaults(),
	}
	if deps.Archive != nil {
		p.archiver = newArchiver(deps.Archive, deps.Logger)
	}
	p.ledger.SetLimits(p.cfg.DailyLimit, p.cfg.PerJobLimit)
	return p, nil
}

// EnqueueRequest asks for one episode. Either Content or SourceURL is required.
type EnqueueRequest struct {
	EpisodeTitle string                `json:"episode_title"`
	SourceName   string                `json:"source_name"`
	SourceURL    string                `json:"source_url"`
	Content      string                `json:"content"`
	Options      models.EpisodeOptions `json:"options"`
}

// Enqueue validates req and adds a pending item.
func (p *QueueProcessor) Enqueue(req EnqueueRequest) (models.QueueItem, error) {
	cfg := p.Config()
	req.EpisodeTitle = strings.TrimSpace(req.EpisodeTitle)
	req.Content = strings.TrimSpace(req.Content)
	if req.EpisodeTitle == "" {
		return models.QueueItem{}, fmt.Errorf("%w: episode_title is required", ErrInvalidRequest)
	}
	if req.Content == "" && req.SourceURL == "" {
		return models.QueueItem{}, fmt.Errorf("%w: content or source_url is required", ErrInvalidRequest)
	}
	if req.SourceURL != "" {
		u, err := url.Parse(req.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return models.QueueItem{}, fmt.Errorf("%w: source_url must be an http(s) url", ErrInvalidRequest)
		}
	}
	if cfg.MaxContentLength > 0 && utf8.RuneCountInString(req.Content) > cfg.MaxContentLength {
		return models.QueueItem{}, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidRequest, cfg.MaxContentLength)
	}
	if req.SourceName == "" {
		req.SourceName = "manual"
	}
	opts := req.Options
	if opts.TargetLength <= 0 {
		opts.TargetLength = cfg.DefaultOptions.TargetLength
	}
	if opts.Style == "" {
		opts.Style = cfg.DefaultOptions.Style
	}
	if opts.Voice == "" {
		opts.Voice = cfg.DefaultOptions.Voice
	}

	item, err := p.store.Add(models.QueueItem{
		ID:           uuid.NewString(),
		EpisodeTitle: req.EpisodeTitle,
		SourceName:   req.SourceName,
		SourceURL:    req.SourceURL,
		Options:      opts,
		Status:       models.StatusPending,
		Payload:      models.Payload{RawContent: req.Content},
	})
	if err != nil {
		return models.QueueItem{}, err
	}
	telemetry.EnqueueCounter.Inc()
	p.events.Info(item.ID, fmt.Sprintf("queued %q from %s", item.EpisodeTitle, item.SourceName))
	p.archive(item)
	return item, nil
}

// Start begins the poll loop, applying any staged configuration first.
func (p *QueueProcessor) Start() models.ControlResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r := p.run; r != nil {
		select {
		case <-r.done:
			p.run = nil
		default:
			if r.stopping() {
				return models.ControlResult{Success: false, Message: "processor is stopping; in-flight stages are still draining"}
			}
			return models.ControlResult{Success: true, Message: "processor already running"}
		}
	}

	msg := "processor started"
	if p.pending != nil {
		p.cfg = p.pending.withDefaults()
		p.pending = nil
		msg = "processor started with updated configuration"
	}
	p.ledger.SetLimits(p.cfg.DailyLimit, p.cfg.PerJobLimit)
	p.paused.Store(false)

	r := &run{
		cfg:     p.cfg,
		policy:  retry.NewPolicy(p.cfg.MaxRetries, p.cfg.BackoffInitial, p.cfg.BackoffMax),
		results: make(chan outcome, p.cfg.MaxConcurrentJobs),
		force:   make(chan forceRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		active:  make(map[string]struct{}),
	}
	p.run = r
	go p.loop(r)

	p.events.Info("", fmt.Sprintf("%s (%s)", msg, p.cfg))
	return models.ControlResult{Success: true, Message: msg}
}

// Stop halts polling and waits until in-flight stage executions finish or
// ctx is done. In-flight executions are never interrupted.
func (p *QueueProcessor) Stop(ctx context.Context) models.ControlResult {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()
	if r == nil {
		return models.ControlResult{Success: true, Message: "processor already stopped"}
	}
	r.stopOnce.Do(func() { close(r.stop) })

	select {
	case <-r.done:
		p.mu.Lock()
		if p.run == r {
			p.run = nil
		}
		p.mu.Unlock()
		p.events.Info("", "processor stopped")
		return models.ControlResult{Success: true, Message: "processor stopped"}
	case <-ctx.Done():
		return models.ControlResult{Success: false, Message: "stop requested; in-flight stages are still draining"}
	}
}

// Pause stops new admissions. In-flight stages finish normally.
func (p *QueueProcessor) Pause() models.ControlResult {
	if !p.Running() {
		return models.ControlResult{Success: false, Message: "processor is not running"}
	}
	if p.paused.Swap(true) {
		return models.ControlResult{Success: true, Message: "processor already paused"}
	}
	p.events.Info("", "processor paused")
	return models.ControlResult{Success: true, Message: "processor paused"}
}

// Resume re-enables admissions.
func (p *QueueProcessor) Resume() models.ControlResult {
	if !p.Running() {
		return models.ControlResult{Success: false, Message: "processor is not running"}
	}
	if !p.paused.Swap(false) {
		return models.ControlResult{Success: true, Message: "processor is not paused"}
	}
	p.events.Info("", "processor resumed")
	return models.ControlResult{Success: true, Message: "processor resumed"}
}

// Running reports whether a poll loop is active and not stopping.
func (p *QueueProcessor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil && !p.run.stopping()
}

// Paused reports whether admissions are suspended.
func (p *QueueProcessor) Paused() bool {
	return p.paused.Load()
}

// ProcessItem dispatches id now instead of waiting for the next tick. The
// usual admission rules apply: the item must be eligible, a slot must be
// free, admissions must not be paused and the cost ledger must authorize.
func (p *QueueProcessor) ProcessItem(id string) models.ControlResult {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()
	if r == nil || r.stopping() {
		return models.ControlResult{Success: false, Message: "processor is not running"}
	}

	req := forceRequest{id: id, reply: make(chan models.ControlResult, 1)}
	select {
	case r.force <- req:
	case <-r.done:
		return models.ControlResult{Success: false, Message: "processor is not running"}
	}
	select {
	case res := <-req.reply:
		return res
	case <-r.done:
		return models.ControlResult{Success: false, Message: "processor stopped before dispatch"}
	}
}

// UpdateConfig stages a configuration change. Changes apply on the next
// Start; the running loop keeps its configuration.
func (p *QueueProcessor) UpdateConfig(patch ConfigPatch) models.ControlResult {
	if patch.Empty() {
		return models.ControlResult{Success: false, Message: "no configuration fields given"}
	}
	if err := patch.Validate(); err != nil {
		return models.ControlResult{Success: false, Message: err.Error()}
	}

	p.mu.Lock()
	base := p.cfg
	if p.pending != nil {
		base = *p.pending
	}
	next := patch.Apply(base)
	p.pending = &next
	running := p.run != nil
	p.mu.Unlock()

	msg := "configuration saved; it takes effect when the processor starts"
	if running {
		msg = "configuration saved; restart the processor to apply it"
	}
	p.events.Info("", fmt.Sprintf("%s (%s)", msg, next))
	return models.ControlResult{Success: true, Message: msg}
}

// Config returns the configuration in effect.
func (p *QueueProcessor) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// PendingConfig returns the staged configuration, if any.
func (p *QueueProcessor) PendingConfig() (Config, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Config{}, false
	}
	return *p.pending, true
}

// Item returns one queue item with its payload.
func (p *QueueProcessor) Item(id string) (models.QueueItem, error) {
	return p.store.Get(id)
}

// Items returns every queue item, oldest first, without payloads.
func (p *QueueProcessor) Items() []models.QueueItem {
	return p.store.Snapshot()
}

// Logs returns recent events, newest first.
func (p *QueueProcessor) Logs(level models.LogLevel, limit int) []models.LogEvent {
	return p.events.Recent(level, limit)
}

// Close stops the loop and flushes the archive. While stages are still
// draining the archive stays open; call Close again once they finish.
func (p *QueueProcessor) Close(ctx context.Context) models.ControlResult {
	res := p.Stop(ctx)
	if res.Success && p.archiver != nil {
		p.archiver.close()
	}
	return res
}

func (p *QueueProcessor) archive(item models.QueueItem) {
	if p.archiver != nil {
		p.archiver.save(item)
	}
}
