package stages

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"episode-generator/internal/models"
	"episode-generator/internal/providers"
	"episode-generator/internal/providers/scrape"
	"episode-generator/internal/providers/storage"
	"episode-generator/internal/summarize"
)

// Failure is the typed outcome of a stage attempt that did not succeed.
type Failure struct {
	Kind       models.FailureKind
	Stage      models.Stage
	Message    string
	RetryAfter time.Duration
	Cost       float64 // spent by the attempt; committed even though it failed
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Stage, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail builds a Failure of the given kind around err.
func Fail(stage models.Stage, kind models.FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Message: err.Error(), Err: err}
}

// Classify maps an executor error onto the failure taxonomy.
func Classify(stage models.Stage, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if f.Stage == "" {
			f.Stage = stage
		}
		return f
	}

	var statusErr *providers.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			out := Fail(stage, models.FailureRateLimited, err)
			out.RetryAfter = statusErr.RetryAfter
			return out
		case statusErr.StatusCode >= http.StatusInternalServerError,
			statusErr.StatusCode == http.StatusRequestTimeout:
			return Fail(stage, models.FailureTransient, err)
		case statusErr.StatusCode >= http.StatusBadRequest:
			return Fail(stage, models.FailureInputValidation, err)
		}
		return Fail(stage, models.FailureUnexpected, err)
	}

	switch {
	case errors.Is(err, summarize.ErrQualityGate):
		return Fail(stage, models.FailureQualityGate, err)
	case errors.Is(err, summarize.ErrInvalidInput),
		errors.Is(err, scrape.ErrNoContent),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, ErrMissingInput):
		return Fail(stage, models.FailureInputValidation, err)
	case errors.Is(err, summarize.ErrEmptyCompletion),
		errors.Is(err, context.DeadlineExceeded):
		return Fail(stage, models.FailureTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Fail(stage, models.FailureTransient, err)
	}
	return Fail(stage, models.FailureUnexpected, err)
}
