package models

import (
	"time"
)

// Status enumerates the lifecycle states of a queue item. The non-terminal
// statuses after pending name the stage the item is in.
type Status string

const (
	StatusPending         Status = "pending"
	StatusScraping        Status = "scraping"
	StatusSummarizing     Status = "summarizing"
	StatusGeneratingAudio Status = "generating-audio"
	StatusUploading       Status = "uploading"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

var statusOrder = map[Status]int{
	StatusPending:         0,
	StatusScraping:        1,
	StatusSummarizing:     2,
	StatusGeneratingAudio: 3,
	StatusUploading:       4,
	StatusCompleted:       5,
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed
}

// Stage returns the pipeline stage executed while the item is in s.
// Pending items run the scrape stage on admission.
func (s Status) Stage() (Stage, bool) {
	switch s {
	case StatusPending, StatusScraping:
		return StageScrape, true
	case StatusSummarizing:
		return StageSummarize, true
	case StatusGeneratingAudio:
		return StageGenerateAudio, true
	case StatusUploading:
		return StageUpload, true
	}
	return "", false
}

// CanTransition reports whether moving from s to next keeps the
// forward-only ordering: same status, exactly one stage forward, or failed.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed || next == s {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	return ok && to == from+1
}

// Stage is one phase of the episode pipeline.
type Stage string

const (
	StageScrape        Stage = "scrape"
	StageSummarize     Stage = "summarize"
	StageGenerateAudio Stage = "generate-audio"
	StageUpload        Stage = "upload"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageScrape, StageSummarize, StageGenerateAudio, StageUpload}

// Status returns the status an item holds while this stage runs.
func (s Stage) Status() Status {
	switch s {
	case StageScrape:
		return StatusScraping
	case StageSummarize:
		return StatusSummarizing
	case StageGenerateAudio:
		return StatusGeneratingAudio
	case StageUpload:
		return StatusUploading
	}
	return StatusFailed
}

// Next returns the status an item moves to once this stage succeeds.
func (s Stage) Next() Status {
	switch s {
	case StageScrape:
		return StatusSummarizing
	case StageSummarize:
		return StatusGeneratingAudio
	case StageGenerateAudio:
		return StatusUploading
	case StageUpload:
		return StatusCompleted
	}
	return StatusFailed
}

// StartProgress is the progress percentage an item is reset to when it
// enters the stage.
func (s Stage) StartProgress() int {
	switch s {
	case StageScrape:
		return 10
	case StageSummarize:
		return 30
	case StageGenerateAudio:
		return 60
	case StageUpload:
		return 85
	}
	return 0
}

// Remaining returns this stage and every stage after it.
func (s Stage) Remaining() []Stage {
	for i, st := range Stages {
		if st == s {
			return Stages[i:]
		}
	}
	return nil
}

// FailureKind classifies why a stage attempt failed.
type FailureKind string

const (
	FailureInputValidation FailureKind = "input-validation-failure"
	FailureQualityGate     FailureKind = "quality-gate-failure"
	FailureCostLimit       FailureKind = "cost-limit-exceeded"
	FailureTransient       FailureKind = "transient-provider-error"
	FailureRateLimited     FailureKind = "rate-limited"
	FailureUnexpected      FailureKind = "unexpected-error"
)

// Retryable reports whether another attempt could succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransient, FailureRateLimited, FailureUnexpected:
		return true
	}
	return false
}

// EpisodeOptions carries per-item generation settings.
type EpisodeOptions struct {
	TargetLength int    `json:"target_length"`
	Style        string `json:"style"`
	Voice        string `json:"voice"`
}

// QueueItem is one episode generation job tracked by the scheduler.
type QueueItem struct {
	ID                     string         `json:"id"`
	EpisodeTitle           string         `json:"episode_title"`
	SourceName             string         `json:"source_name"`
	SourceURL              string         `json:"source_url,omitempty"`
	Options                EpisodeOptions `json:"options"`
	Status                 Status         `json:"status"`
	Progress               int            `json:"progress"`
	EstimatedTimeRemaining time.Duration  `json:"estimated_time_remaining"`
	Attempts               map[Stage]int  `json:"attempts"`
	Admissions             int            `json:"admissions"`
	CostToDate             float64        `json:"cost_to_date"`
	LastError              string         `json:"last_error,omitempty"`
	FailureKind            FailureKind    `json:"failure_kind,omitempty"`
	FailedStage            Stage          `json:"failed_stage,omitempty"`
	RetryDelay             time.Duration  `json:"retry_delay,omitempty"`
	CheckedOut             bool           `json:"checked_out"`
	EpisodeURL             string         `json:"episode_url,omitempty"`
	ArtworkURL             string         `json:"artwork_url,omitempty"`
	Payload                Payload        `json:"-"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	StartedAt              *time.Time     `json:"started_at,omitempty"`
	CompletedAt            *time.Time     `json:"completed_at,omitempty"`
}

// RetryReadyAt is the earliest instant the item may be admitted again.
func (q QueueItem) RetryReadyAt() time.Time {
	return q.UpdatedAt.Add(q.RetryDelay)
}

// Clone returns a deep copy safe to hand outside the store.
func (q QueueItem) Clone() QueueItem {
	out := q
	out.Attempts = make(map[Stage]int, len(q.Attempts))
	for k, v := range q.Attempts {
		out.Attempts[k] = v
	}
	if q.StartedAt != nil {
		t := *q.StartedAt
		out.StartedAt = &t
	}
	if q.CompletedAt != nil {
		t := *q.CompletedAt
		out.CompletedAt = &t
	}
	out.Payload = q.Payload.Clone()
	return out
}
