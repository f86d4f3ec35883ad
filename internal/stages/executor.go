// Package stages implements the pipeline stage executors. Executors take a
// payload in and hand a payload, cost and failure back; they never touch
// queue item state.
package stages

import (
	"context"
	"errors"
	"time"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
)

// ErrMissingInput means the payload lacks what the stage consumes.
var ErrMissingInput = errors.New("stage input missing from payload")

// Meta is the read-only job context an executor may consult.
type Meta struct {
	ItemID     string
	Title      string
	SourceName string
	SourceURL  string
	Options    models.EpisodeOptions
	Attempt    int
	Now        time.Time
}

// Result is a successful stage outcome.
type Result struct {
	Payload models.Payload
	Cost    float64
	Notes   []string
}

// Executor runs one pipeline stage.
type Executor interface {
	Stage() models.Stage
	// Project estimates the cost of Execute before it runs.
	Project(payload models.Payload, meta Meta) float64
	// Execute returns the next payload, or an error the scheduler classifies.
	Execute(ctx context.Context, payload models.Payload, meta Meta) (Result, error)
}

// Set indexes executors by stage.
type Set map[models.Stage]Executor

// NewSet builds a Set from executors.
func NewSet(executors ...Executor) Set {
	s := make(Set, len(executors))
	for _, e := range executors {
		s[e.Stage()] = e
	}
	return s
}

// Missing lists pipeline stages without an executor.
func (s Set) Missing() []models.Stage {
	var out []models.Stage
	for _, st := range models.Stages {
		if _, ok := s[st]; !ok {
			out = append(out, st)
		}
	}
	return out
}

type base struct {
	rates cost.Rates
}
