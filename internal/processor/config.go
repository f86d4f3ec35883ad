package processor

import (
	"errors"
	"fmt"
	"time"

	"episode-generator/internal/config"
	"episode-generator/internal/models"
)

// Config is the scheduler configuration. The fields ConfigPatch can touch
// are staged and only take effect on the next Start.
type Config struct {
	DailyLimit        float64
	PerJobLimit       float64
	MaxConcurrentJobs int
	MaxRetries        int
	PollingInterval   time.Duration

	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	StageTimeout     time.Duration
	StatsWindow      time.Duration
	MaxContentLength int
	DefaultOptions   models.EpisodeOptions
}

// DefaultConfig mirrors the environment defaults.
func DefaultConfig() Config {
	return Config{
		DailyLimit:        50,
		PerJobLimit:       5,
		MaxConcurrentJobs: 3,
		MaxRetries:        3,
		PollingInterval:   5 * time.Second,
		BackoffInitial:    5 * time.Second,
		BackoffMax:        5 * time.Minute,
		StageTimeout:      10 * time.Minute,
		StatsWindow:       24 * time.Hour,
		MaxContentLength:  50000,
		DefaultOptions:    models.EpisodeOptions{TargetLength: 150, Style: "conversational"},
	}
}

// ConfigFrom extracts the scheduler settings from the service config.
func ConfigFrom(c config.Config) Config {
	return Config{
		DailyLimit:        c.Cost.DailyLimit,
		PerJobLimit:       c.Cost.PerJobLimit,
		MaxConcurrentJobs: c.Queue.MaxConcurrentJobs,
		MaxRetries:        c.Queue.MaxRetries,
		PollingInterval:   c.Queue.PollingInterval,
		BackoffInitial:    c.Queue.BackoffInitial,
		BackoffMax:        c.Queue.BackoffMax,
		StageTimeout:      c.Queue.StageTimeout,
		StatsWindow:       c.Queue.StatsWindow,
		MaxContentLength:  c.Queue.MaxContentLength,
		DefaultOptions: models.EpisodeOptions{
			TargetLength: c.Queue.DefaultTarget,
			Style:        c.Queue.DefaultStyle,
			Voice:        c.TTSVoice,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = def.PollingInterval
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = def.BackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = def.StageTimeout
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = def.StatsWindow
	}
	if c.DefaultOptions.TargetLength <= 0 {
		c.DefaultOptions.TargetLength = def.DefaultOptions.TargetLength
	}
	if c.DefaultOptions.Style == "" {
		c.DefaultOptions.Style = def.DefaultOptions.Style
	}
	return c
}

// ConfigPatch is a partial update; nil fields keep their current value.
// PollingInterval is in milliseconds.
type ConfigPatch struct {
	DailyLimit        *float64 `json:"dailyLimit,omitempty"`
	PerJobLimit       *float64 `json:"perJobLimit,omitempty"`
	MaxConcurrentJobs *int     `json:"maxConcurrentJobs,omitempty"`
	MaxRetries        *int     `json:"maxRetries,omitempty"`
	PollingInterval   *int64   `json:"pollingInterval,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ConfigPatch) Empty() bool {
	return p.DailyLimit == nil && p.PerJobLimit == nil && p.MaxConcurrentJobs == nil &&
		p.MaxRetries == nil && p.PollingInterval == nil
}

// Validate rejects out-of-range values.
func (p ConfigPatch) Validate() error {
	var errs []error
	if p.DailyLimit != nil && *p.DailyLimit < 0 {
		errs = append(errs, errors.New("dailyLimit must be >= 0"))
	}
	if p.PerJobLimit != nil && *p.PerJobLimit < 0 {
		errs = append(errs, errors.New("perJobLimit must be >= 0"))
	}
	if p.MaxConcurrentJobs != nil && *p.MaxConcurrentJobs < 1 {
		errs = append(errs, errors.New("maxConcurrentJobs must be >= 1"))
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		errs = append(errs, errors.New("maxRetries must be >= 0"))
	}
	if p.PollingInterval != nil && *p.PollingInterval < 10 {
		errs = append(errs, errors.New("pollingInterval must be >= 10ms"))
	}
	return errors.Join(errs...)
}

// Apply returns c with the patch applied.
func (p ConfigPatch) Apply(c Config) Config {
	if p.DailyLimit != nil {
		c.DailyLimit = *p.DailyLimit
	}
	if p.PerJobLimit != nil {
		c.PerJobLimit = *p.PerJobLimit
	}
	if p.MaxConcurrentJobs != nil {
		c.MaxConcurrentJobs = *p.MaxConcurrentJobs
	}
	if p.MaxRetries != nil {
		c.MaxRetries = *p.MaxRetries
	}
	if p.PollingInterval != nil {
		c.PollingInterval = time.Duration(*p.PollingInterval) * time.Millisecond
	}
	return c
}

// ConfigView is the wire form of the patchable settings.
type ConfigView struct {
	DailyLimit        float64 `json:"dailyLimit"`
	PerJobLimit       float64 `json:"perJobLimit"`
	MaxConcurrentJobs int     `json:"maxConcurrentJobs"`
	MaxRetries        int     `json:"maxRetries"`
	PollingInterval   int64   `json:"pollingInterval"`
}

// View converts c to its wire form.
func (c Config) View() ConfigView {
	return ConfigView{
		DailyLimit:        c.DailyLimit,
		PerJobLimit:       c.PerJobLimit,
		MaxConcurrentJobs: c.MaxConcurrentJobs,
		MaxRetries:        c.MaxRetries,
		PollingInterval:   c.PollingInterval.Milliseconds(),
	}
}

func (c Config) String() string {
	return fmt.Sprintf("daily=%.2f perJob=%.2f concurrency=%d retries=%d poll=%s",
		c.DailyLimit, c.PerJobLimit, c.MaxConcurrentJobs, c.MaxRetries, c.PollingInterval)
}
