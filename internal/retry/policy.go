package retry

import (
	"math"
	"time"

	"episode-generator/internal/models"
)

// Policy decides whether a failed stage attempt is re-attempted.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Decision is the outcome of ShouldRetry.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// NewPolicy fills in defaults for zero values.
func NewPolicy(maxRetries int, base, max time.Duration) Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return Policy{MaxRetries: maxRetries, BaseDelay: base, MaxDelay: max}
}

// ShouldRetry evaluates the attempt that just failed. attempt is 1-based
// and counts the failed attempt itself. retryAfter is the provider's
// requested delay for rate-limited failures and is otherwise ignored.
func (p Policy) ShouldRetry(attempt int, kind models.FailureKind, retryAfter time.Duration) Decision {
	if !kind.Retryable() || attempt > p.MaxRetries {
		return Decision{}
	}
	delay := p.Backoff(attempt)
	if kind == models.FailureRateLimited && retryAfter > delay {
		delay = retryAfter
	}
	return Decision{Retry: true, Delay: delay}
}

// Backoff returns base * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(exp)
}
