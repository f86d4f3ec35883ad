package models

import "time"

// GenerationStats is a read-only aggregate derived from the job store.
type GenerationStats struct {
	CurrentlyProcessing   int           `json:"currently_processing"`
	TotalInQueue          int           `json:"total_in_queue"`
	SuccessRate           float64       `json:"success_rate"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	TotalCostToday        float64       `json:"total_cost_today"`
}

// LogLevel is the severity of a processor event.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEvent is a processor event surfaced to dashboards.
type LogEvent struct {
	ID          string    `json:"id"`
	Level       LogLevel  `json:"level"`
	Message     string    `json:"message"`
	QueueItemID string    `json:"queue_item_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ControlResult is returned by every processor control operation.
type ControlResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
