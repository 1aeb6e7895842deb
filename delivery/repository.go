package delivery

import (
	"context"
	"time"

	"github.com/tunecast/distributor/release"
)

/* Small, focused interfaces composed into the Repository the engine
 * runs on. The store is the single source of truth for attempt state;
 * every state write is conditional on the prior state.
 */

// AttemptReader provides read operations for delivery attempts
type AttemptReader interface {
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Attempt, error)
	// FindByExternalRef locates the attempt a partner webhook refers to
	FindByExternalRef(ctx context.Context, partnerID, externalRef string) (Attempt, error)
	ListByRelease(ctx context.Context, releaseID string) ([]Attempt, error)
}

// AttemptWriter provides conditional write operations for attempts
type AttemptWriter interface {
	/* CreateAttempt claims the attempt's idempotency key and persists
	 * the record. When another attempt already holds the key the
	 * existing record is returned with created=false; exactly one of
	 * two racing creators wins.
	 */
	CreateAttempt(ctx context.Context, a Attempt) (out Attempt, created bool, err error)

	/* UpdateAttempt persists a transitioned attempt conditionally on
	 * its prior state (compare-and-swap). A writer that lost the race
	 * gets ErrConflict and must re-read before deciding anything.
	 */
	UpdateAttempt(ctx context.Context, a Attempt, from State) error
}

// DeliverableStore persists the canonical deliverable once per content
// hash so every attempt re-drives from the same immutable input
type DeliverableStore interface {
	PutDeliverable(ctx context.Context, d release.Deliverable) error
	GetDeliverable(ctx context.Context, contentHash string) (release.Deliverable, error)
}

// Scheduler provides the explicit work-item queues: a submit queue
// consumed by the worker pool and a time-ordered retry schedule
type Scheduler interface {
	EnqueueSubmit(ctx context.Context, attemptID string) error
	/* DequeueSubmit blocks until a submit work item is available, the
	 * poll interval elapses (returning ""), or the context ends.
	 */
	DequeueSubmit(ctx context.Context) (string, error)
	ScheduleRetry(ctx context.Context, attemptID string, at time.Time) error
	// DueRetries atomically pops attempts whose backoff elapsed
	DueRetries(ctx context.Context, now time.Time) ([]string, error)
}

// EventLog records webhook events and their exactly-once consumption
type EventLog interface {
	/* ClaimEvent marks a dedupe key consumed. Returns false when the
	 * key was already claimed, making redelivery a no-op.
	 */
	ClaimEvent(ctx context.Context, dedupeKey string) (bool, error)
	// ReleaseEvent undoes a claim whose transition could not be applied
	// for a retryable reason (e.g. the submit-response race)
	ReleaseEvent(ctx context.Context, dedupeKey string) error
	// AppendEvent writes the immutable audit record
	AppendEvent(ctx context.Context, ev WebhookEvent) error
}

// SweepQuerier feeds the recovery sweep
type SweepQuerier interface {
	// ListStale returns non-terminal attempts not updated since the
	// given time
	ListStale(ctx context.Context, olderThan time.Time) ([]Attempt, error)
}

// Stats exposes counters for the metrics collector
type Stats interface {
	CountByState(ctx context.Context) (map[string]int64, error)
	RetryQueueDepth(ctx context.Context) (int64, error)
}

/* Interface composition - the engine's full storage contract */
type Repository interface {
	AttemptReader
	AttemptWriter
	DeliverableStore
	Scheduler
	EventLog
	SweepQuerier
	Stats
	HeartbeatStore
	Close(ctx context.Context) error
}
