package delivery

import (
	"context"
	"time"
)

// HeartbeatTTL is how long a worker heartbeat stays visible without a
// refresh; workers publish at half this interval
const HeartbeatTTL = 60 * time.Second

// WorkerHeartbeat represents the liveness record a pool worker publishes
type WorkerHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	AttemptID     string    `json:"attempt_id,omitempty"` // attempt in flight, empty when idle
	Status        string    `json:"status"`               // "idle", "submitting"
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// HeartbeatStore tracks which pool workers are alive and what they are
// working on
type HeartbeatStore interface {
	SetWorkerHeartbeat(ctx context.Context, hb WorkerHeartbeat) error
	// ActiveWorkers returns workers whose heartbeat has not expired
	ActiveWorkers(ctx context.Context) ([]WorkerHeartbeat, error)
}
