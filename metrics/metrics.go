package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery engine.
type Metrics struct {
	// StatusCounts maps status name to count of delivery records in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// ScheduledRetries is the number of records waiting in the retry schedule
	ScheduledRetries int64 `json:"scheduled_retries"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting metrics from the
// delivery engine.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetStatusCounts returns the count of delivery records by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetScheduledRetries returns the retry schedule depth
	GetScheduledRetries(ctx context.Context) (int64, error)
}
