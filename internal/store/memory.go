package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"episode-generator/internal/models"
)

var (
	ErrNotFound          = errors.New("queue item not found")
	ErrDuplicate         = errors.New("queue item already exists")
	ErrTerminal          = errors.New("queue item is terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Memory is the in-process job store. It is the single source of truth the
// scheduler and the stats reporter read; writes are serialized.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*models.QueueItem
	now   func() time.Time
}

// NewMemory builds an empty store. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]*models.QueueItem), now: now}
}

// Add inserts a new item. CreatedAt and UpdatedAt default to now.
func (m *Memory) Add(item models.QueueItem) (models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return models.QueueItem{}, fmt.Errorf("%w: %s", ErrDuplicate, item.ID)
	}
	now := m.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if item.Attempts == nil {
		item.Attempts = make(map[models.Stage]int)
	}
	stored := item.Clone()
	m.items[item.ID] = &stored
	return stored.Clone(), nil
}

// Get returns a copy of the item including its payload.
func (m *Memory) Get(id string) (models.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return models.QueueItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item.Clone(), nil
}

// Snapshot returns copies of every item, oldest first, without payloads.
func (m *Memory) Snapshot() []models.QueueItem {
	m.mu.RLock()
	out := make([]models.QueueItem, 0, len(m.items))
	for _, item := range m.items {
		c := *item
		c.Payload = models.Payload{}
		c.Attempts = make(map[models.Stage]int, len(item.Attempts))
		for k, v := range item.Attempts {
			c.Attempts[k] = v
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Update applies fn to a copy of the item and stores the result if it keeps
// the lifecycle rules: terminal items are immutable, status only moves
// forward one stage (or to failed), progress never decreases within a
// status and cost never decreases. UpdatedAt is bumped when status,
// progress, cost or checkout state change.
func (m *Memory) Update(id string, fn func(*models.QueueItem) error) (models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.items[id]
	if !ok {
		return models.QueueItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Status.Terminal() {
		return cur.Clone(), fmt.Errorf("%w: %s is %s", ErrTerminal, id, cur.Status)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	if next.Status != cur.Status && !cur.Status.CanTransition(next.Status) {
		return cur.Clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	if next.Progress < 0 {
		next.Progress = 0
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	if next.Status == cur.Status && next.Progress < cur.Progress {
		next.Progress = cur.Progress
	}
	if next.CostToDate < cur.CostToDate {
		next.CostToDate = cur.CostToDate
	}

	if next.Status != cur.Status || next.Progress != cur.Progress ||
		next.CostToDate != cur.CostToDate || next.CheckedOut != cur.CheckedOut {
		next.UpdatedAt = m.now()
	} else {
		next.UpdatedAt = cur.UpdatedAt
	}
	m.items[id] = &next
	return next.Clone(), nil
}

// SetEstimates records advisory time-remaining values. It does not bump
// UpdatedAt, which doubles as the retry clock.
func (m *Memory) SetEstimates(estimates map[string]time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, eta := range estimates {
		if item, ok := m.items[id]; ok && !item.Status.Terminal() {
			item.EstimatedTimeRemaining = eta
		}
	}
}
