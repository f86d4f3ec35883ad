// Package events keeps the recent processor events shown on dashboards.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"episode-generator/internal/models"
)

const (
	defaultCapacity = 500
	sinkBuffer      = 256
	sinkTimeout     = 5 * time.Second
)

// Sink persists events outside the process.
type Sink interface {
	AppendEvent(ctx context.Context, ev models.LogEvent) error
}

// Log is a bounded ring of events mirrored to zap and an optional Sink.
type Log struct {
	mu    sync.RWMutex
	ring  []models.LogEvent
	next  int
	count int

	logger *zap.Logger
	now    func() time.Time

	sink      Sink
	sinkMu    sync.Mutex
	closed    bool
	queue     chan models.LogEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Option customizes a Log.
type Option func(*Log)

func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.ring = make([]models.LogEvent, n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSink forwards every event to sink from a background goroutine.
// Events are dropped, with a warning, when the sink falls behind.
func WithSink(sink Sink) Option {
	return func(l *Log) {
		l.sink = sink
	}
}

// New builds a Log. logger may be nil.
func New(logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		ring:   make([]models.LogEvent, defaultCapacity),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink != nil {
		l.queue = make(chan models.LogEvent, sinkBuffer)
		l.done = make(chan struct{})
		go l.drain()
	}
	return l
}

func (l *Log) Info(itemID, msg string, fields ...zap.Field) models.LogEvent {
	return l.Record(models.LevelInfo, itemID, msg, fields...)
}

func (l *Log) Warn(itemID, msg string, fields ...zap.Field) models.LogEvent {
	return l.Record(models.LevelWarning, itemID, msg, fields...)
}

func (l *Log) Error(itemID, msg string, fields ...zap.Field) models.LogEvent {
	return l.Record(models.LevelError, itemID, msg, fields...)
}

// Record stores an event and writes it to zap at the matching level.
// Fields go to zap only; the stored message is msg itself.
func (l *Log) Record(level models.LogLevel, itemID, msg string, fields ...zap.Field) models.LogEvent {
	ev := models.LogEvent{
		ID:          uuid.NewString(),
		Level:       level,
		Message:     msg,
		QueueItemID: itemID,
		Timestamp:   l.now(),
	}

	l.mu.Lock()
	l.ring[l.next] = ev
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
	l.mu.Unlock()

	if itemID != "" {
		fields = append(fields, zap.String("item_id", itemID))
	}
	switch level {
	case models.LevelError:
		l.logger.Error(msg, fields...)
	case models.LevelWarning:
		l.logger.Warn(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}

	l.forward(ev)
	return ev
}

// forward hands ev to the sink goroutine. Events recorded after Close stay
// in the ring and zap only.
func (l *Log) forward(ev models.LogEvent) {
	if l.queue == nil {
		return
	}
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("event sink backlog full, dropping event", zap.String("event_id", ev.ID))
	}
}

// Recent returns up to limit events, newest first. An empty level matches all.
func (l *Log) Recent(level models.LogLevel, limit int) []models.LogEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]models.LogEvent, 0, limit)
	for i := 1; i <= l.count && len(out) < limit; i++ {
		ev := l.ring[(l.next-i+len(l.ring))%len(l.ring)]
		if level == "" || ev.Level == level {
			out = append(out, ev)
		}
	}
	return out
}

// ParseLevel accepts info, warning (or warn) and error. Empty means all.
func ParseLevel(s string) (models.LogLevel, error) {
	switch s {
	case "":
		return "", nil
	case "info":
		return models.LevelInfo, nil
	case "warn", "warning":
		return models.LevelWarning, nil
	case "error":
		return models.LevelError, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// Close flushes pending sink writes. Events recorded afterwards are kept
// in memory but no longer reach the sink.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		if l.queue == nil {
			return
		}
		l.sinkMu.Lock()
		l.closed = true
		close(l.queue)
		l.sinkMu.Unlock()
		<-l.done
	})
}

func (l *Log) drain() {
	defer close(l.done)
	for ev := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := l.sink.AppendEvent(ctx, ev); err != nil {
			l.logger.Warn("persist event", zap.String("event_id", ev.ID), zap.Error(err))
		}
		cancel()
	}
}
