// Package cost tracks daily and per-job spend and authorizes stage costs
// before they are incurred.
package cost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"episode-generator/internal/models"
)

var (
	ErrLimitExceeded    = errors.New("cost limit exceeded")
	ErrDailyLimit       = fmt.Errorf("%w: daily limit", ErrLimitExceeded)
	ErrJobLimit         = fmt.Errorf("%w: per-job limit", ErrLimitExceeded)
	ErrAlreadyCommitted = errors.New("permit already committed")
	ErrAlreadyReserved  = errors.New("permit already reserved for this attempt")
	ErrUnknownPermit    = errors.New("unknown permit")
	ErrOverrun          = errors.New("actual cost exceeded reservation")
)

// SpendStore persists committed spend so the daily total survives restarts.
type SpendStore interface {
	LoadDaily(ctx context.Context, day string) (float64, error)
	RecordCommit(ctx context.Context, day, permitID string, amount float64) (bool, error)
}

// Permit is an authorized reservation for one stage attempt.
type Permit struct {
	ID      string       `json:"id"`
	JobID   string       `json:"job_id"`
	Stage   models.Stage `json:"stage"`
	Attempt int          `json:"attempt"`
	Amount  float64      `json:"amount"`
}

// PermitID is unique per job, stage and attempt.
func PermitID(jobID string, stage models.Stage, attempt int) string {
	return fmt.Sprintf("%s/%s/%d", jobID, stage, attempt)
}

// Ledger is the process-wide spend ledger. Authorized amounts are reserved
// until committed or released, so concurrent authorizations can never
// jointly exceed either limit.
type Ledger struct {
	mu          sync.RWMutex
	dailyLimit  float64
	perJobLimit float64
	loc         *time.Location
	now         func() time.Time

	day          string
	dailySpent   float64
	jobSpent     map[string]float64
	reservations map[string]Permit
	committed    map[string]struct{}

	store  SpendStore
	logger *zap.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the time zone whose midnight resets the daily bucket.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithSpendStore mirrors commits into a persistent store.
func WithSpendStore(store SpendStore) Option {
	return func(l *Ledger) {
		l.store = store
	}
}

// WithLogger sets the logger used for store failures and overruns.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger constructs a ledger with the provided limits.
func NewLedger(dailyLimit, perJobLimit float64, opts ...Option) *Ledger {
	l := &Ledger{
		dailyLimit:   dailyLimit,
		perJobLimit:  perJobLimit,
		loc:          time.UTC,
		now:          time.Now,
		jobSpent:     make(map[string]float64),
		reservations: make(map[string]Permit),
		committed:    make(map[string]struct{}),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.day = l.dayKey(l.now())
	return l
}

// SetLimits replaces both ceilings.
func (l *Ledger) SetLimits(dailyLimit, perJobLimit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyLimit = dailyLimit
	l.perJobLimit = perJobLimit
}

// Limits returns the current ceilings.
func (l *Ledger) Limits() (daily, perJob float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyLimit, l.perJobLimit
}

// Restore seeds today's spend from the store, keeping the larger of the
// in-memory and persisted totals.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	l.rollover()
	day := l.day
	l.mu.Unlock()

	total, err := l.store.LoadDaily(ctx, day)
	if err != nil {
		return fmt.Errorf("load daily spend: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.day == day && total > l.dailySpent {
		l.dailySpent = total
	}
	return nil
}

// Authorize reserves projected for one stage attempt or denies it.
func (l *Ledger) Authorize(jobID string, stage models.Stage, attempt int, projected float64) (Permit, error) {
	if projected < 0 {
		projected = 0
	}
	id := PermitID(jobID, stage, attempt)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	if _, ok := l.reservations[id]; ok {
		return Permit{}, ErrAlreadyReserved
	}
	if _, ok := l.committed[id]; ok {
		return Permit{}, ErrAlreadyCommitted
	}

	dailyReserved, jobReserved := l.reserved(jobID)
	if l.dailySpent+dailyReserved+projected > l.dailyLimit {
		return Permit{}, fmt.Errorf("%w: spent %.6f reserved %.6f projected %.6f limit %.6f",
			ErrDailyLimit, l.dailySpent, dailyReserved, projected, l.dailyLimit)
	}
	if l.jobSpent[jobID]+jobReserved+projected > l.perJobLimit {
		return Permit{}, fmt.Errorf("%w: spent %.6f reserved %.6f projected %.6f limit %.6f",
			ErrJobLimit, l.jobSpent[jobID], jobReserved, projected, l.perJobLimit)
	}

	p := Permit{ID: id, JobID: jobID, Stage: stage, Attempt: attempt, Amount: projected}
	l.reservations[id] = p
	return p, nil
}

// Commit converts a reservation into spend and returns the amount charged.
// It is safe to call more than once for the same permit; only the first
// call charges. Spend above the reservation is clamped and reported as
// ErrOverrun so neither total can pass its limit.
func (l *Ledger) Commit(ctx context.Context, p Permit, actual float64) (float64, error) {
	l.mu.Lock()
	l.rollover()
	r, ok := l.reservations[p.ID]
	if !ok {
		_, done := l.committed[p.ID]
		l.mu.Unlock()
		if done {
			return 0, ErrAlreadyCommitted
		}
		return 0, ErrUnknownPermit
	}
	delete(l.reservations, p.ID)

	charged := actual
	if charged < 0 {
		charged = 0
	}
	var overrun error
	if charged > r.Amount {
		overrun = fmt.Errorf("%w: actual %.6f reserved %.6f", ErrOverrun, actual, r.Amount)
		charged = r.Amount
	}
	l.dailySpent += charged
	l.jobSpent[r.JobID] += charged
	l.committed[r.ID] = struct{}{}
	day := l.day
	l.mu.Unlock()

	if l.store != nil {
		if _, err := l.store.RecordCommit(ctx, day, r.ID, charged); err != nil {
			l.logger.Warn("persist spend commit", zap.String("permit", r.ID), zap.Error(err))
		}
	}
	return charged, overrun
}

// Release drops a reservation that will not be committed.
func (l *Ledger) Release(p Permit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reservations, p.ID)
}

// DailyTotal returns today's committed spend.
func (l *Ledger) DailyTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.dailySpent
}

// JobTotal returns the committed spend of one job.
func (l *Ledger) JobTotal(jobID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.jobSpent[jobID]
}

// Outstanding returns the total amount currently reserved.
func (l *Ledger) Outstanding() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	daily, _ := l.reserved("")
	return daily
}

// reserved sums outstanding reservations overall and for jobID. Callers hold mu.
func (l *Ledger) reserved(jobID string) (daily, job float64) {
	for _, r := range l.reservations {
		daily += r.Amount
		if r.JobID == jobID {
			job += r.Amount
		}
	}
	return daily, job
}

// rollover resets the daily bucket when the wall-clock day changed. Callers hold mu.
func (l *Ledger) rollover() {
	day := l.dayKey(l.now())
	if day == l.day {
		return
	}
	l.day = day
	l.dailySpent = 0
	l.committed = make(map[string]struct{})
}

func (l *Ledger) dayKey(t time.Time) string {
	return t.In(l.loc).Format("2006-01-02")
}
