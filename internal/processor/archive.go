package processor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"episode-generator/internal/models"
)

const (
	archiveBuffer  = 256
	archiveTimeout = 5 * time.Second
)

// Archive records item snapshots outside the process.
type Archive interface {
	SaveItem(ctx context.Context, item models.QueueItem) error
}

// archiver writes snapshots in order from one goroutine so the loop never
// waits on the archive.
type archiver struct {
	dst    Archive
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan models.QueueItem
	done   chan struct{}
}

func newArchiver(dst Archive, logger *zap.Logger) *archiver {
	a := &archiver{
		dst:    dst,
		logger: logger,
		queue:  make(chan models.QueueItem, archiveBuffer),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *archiver) save(item models.QueueItem) {
	if item.Payload.Audio != nil {
		audio := *item.Payload.Audio
		audio.Data = nil
		item.Payload.Audio = &audio
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- item:
	default:
		a.logger.Warn("archive backlog full, dropping snapshot", zap.String("item_id", item.ID))
	}
}

func (a *archiver) close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *archiver) drain() {
	defer close(a.done)
	for item := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		if err := a.dst.SaveItem(ctx, item); err != nil {
			a.logger.Warn("archive item", zap.String("item_id", item.ID), zap.Error(err))
		}
		cancel()
	}
}
