package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tunecast/distributor/delivery"
)

const heartbeatPrefix = "worker:heartbeat" // worker:heartbeat:{worker_id}

// SetWorkerHeartbeat stores or refreshes a worker's heartbeat. The key
// carries delivery.HeartbeatTTL; a worker that stops publishing drops
// out of ActiveWorkers on its own.
func (r *Repository) SetWorkerHeartbeat(ctx context.Context, hb delivery.WorkerHeartbeat) error {
	key := fmt.Sprintf("%s:%s", heartbeatPrefix, hb.WorkerID)

	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	if err := r.client.Set(ctx, key, data, delivery.HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}

	return nil
}

// ActiveWorkers retrieves every worker with a live heartbeat
func (r *Repository) ActiveWorkers(ctx context.Context) ([]delivery.WorkerHeartbeat, error) {
	pattern := heartbeatPrefix + ":*"
	var workers []delivery.WorkerHeartbeat

	var cursor uint64
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning worker keys: %w", err)
		}

		for _, key := range keys {
			data, err := r.client.Get(ctx, key).Result()
			if err == redis.Nil {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting worker heartbeat: %w", err)
			}

			var hb delivery.WorkerHeartbeat
			if err := json.Unmarshal([]byte(data), &hb); err != nil {
				continue
			}

			workers = append(workers, hb)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return workers, nil
}
