package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/tunecast/distributor/delivery"
)

// StatsCollector implements the Collector interface over the delivery
// repository's stats queries
type StatsCollector struct {
	stats delivery.Stats
}

// NewStatsCollector creates a collector backed by the delivery store
func NewStatsCollector(stats delivery.Stats) *StatsCollector {
	return &StatsCollector{stats: stats}
}

// Collect gathers all metrics from the delivery store
func (c *StatsCollector) Collect(ctx context.Context) (Metrics, error) {
	stateCounts, err := c.GetStateCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting state counts: %w", err)
	}

	depth, err := c.GetRetryQueueDepth(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting retry queue depth: %w", err)
	}

	return Metrics{
		StateCounts:     stateCounts,
		RetryQueueDepth: depth,
		Timestamp:       time.Now(),
	}, nil
}

// GetStateCounts returns counts of attempts grouped by delivery state
func (c *StatsCollector) GetStateCounts(ctx context.Context) (map[string]int64, error) {
	return c.stats.CountByState(ctx)
}

// GetRetryQueueDepth returns the retry schedule size
func (c *StatsCollector) GetRetryQueueDepth(ctx context.Context) (int64, error) {
	return c.stats.RetryQueueDepth(ctx)
}
