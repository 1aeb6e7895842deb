package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery engine.
type Metrics struct {
	// StateCounts maps delivery state name to the number of attempts
	// currently in that state
	StateCounts map[string]int64 `json:"state_counts"`

	// RetryQueueDepth is the number of attempts waiting out a backoff
	RetryQueueDepth int64 `json:"retry_queue_depth"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting metrics from the
// delivery engine.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetStateCounts returns the count of attempts by delivery state
	GetStateCounts(ctx context.Context) (map[string]int64, error)

	// GetRetryQueueDepth returns how many attempts are scheduled for retry
	GetRetryQueueDepth(ctx context.Context) (int64, error)
}
