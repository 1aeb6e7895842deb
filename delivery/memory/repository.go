package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/release"
)

/* In-memory implementation of delivery.Repository. Mirrors the
 * conditional-update semantics of the Redis store under one mutex;
 * used by unit tests and local development.
 */

const submitQueueSize = 1024

type Repository struct {
	mu sync.RWMutex

	attempts     map[string]delivery.Attempt
	byIdemKey    map[string]string // idempotency key -> attempt id
	byExternal   map[string]string // partnerID:externalRef -> attempt id
	deliverables map[string]release.Deliverable
	claims       map[string]bool
	events       []delivery.WebhookEvent
	retries      map[string]time.Time // attempt id -> due
	heartbeats   map[string]delivery.WorkerHeartbeat

	submitQueue chan string
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		attempts:     make(map[string]delivery.Attempt),
		byIdemKey:    make(map[string]string),
		byExternal:   make(map[string]string),
		deliverables: make(map[string]release.Deliverable),
		claims:       make(map[string]bool),
		retries:      make(map[string]time.Time),
		heartbeats:   make(map[string]delivery.WorkerHeartbeat),
		submitQueue:  make(chan string, submitQueueSize),
	}
}

func extKey(partnerID, externalRef string) string {
	return partnerID + ":" + externalRef
}

func (r *Repository) GetAttempt(_ context.Context, id string) (delivery.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.attempts[id]
	if !ok {
		return delivery.Attempt{}, delivery.ErrAttemptNotFound
	}
	return a, nil
}

func (r *Repository) GetByIdempotencyKey(_ context.Context, key string) (delivery.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdemKey[key]
	if !ok {
		return delivery.Attempt{}, delivery.ErrAttemptNotFound
	}
	return r.attempts[id], nil
}

func (r *Repository) FindByExternalRef(_ context.Context, partnerID, externalRef string) (delivery.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[extKey(partnerID, externalRef)]
	if !ok {
		return delivery.Attempt{}, delivery.ErrAttemptNotFound
	}
	return r.attempts[id], nil
}

func (r *Repository) ListByRelease(_ context.Context, releaseID string) ([]delivery.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []delivery.Attempt
	for _, a := range r.attempts {
		if a.ReleaseID == releaseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Repository) CreateAttempt(_ context.Context, a delivery.Attempt) (delivery.Attempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byIdemKey[a.IdempotencyKey]; ok {
		return r.attempts[existingID], false, nil
	}
	r.byIdemKey[a.IdempotencyKey] = a.ID
	r.attempts[a.ID] = a
	return a, true, nil
}

func (r *Repository) UpdateAttempt(_ context.Context, a delivery.Attempt, from delivery.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.attempts[a.ID]
	if !ok {
		return delivery.ErrAttemptNotFound
	}
	if current.State != from {
		return delivery.ErrConflict
	}
	r.attempts[a.ID] = a
	if a.ExternalRef != "" {
		r.byExternal[extKey(a.PartnerID, a.ExternalRef)] = a.ID
	}
	return nil
}

func (r *Repository) PutDeliverable(_ context.Context, d release.Deliverable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverables[d.ContentHash] = d
	return nil
}

func (r *Repository) GetDeliverable(_ context.Context, contentHash string) (release.Deliverable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deliverables[contentHash]
	if !ok {
		return release.Deliverable{}, delivery.ErrAttemptNotFound
	}
	return d, nil
}

func (r *Repository) EnqueueSubmit(_ context.Context, attemptID string) error {
	select {
	case r.submitQueue <- attemptID:
		return nil
	default:
		return fmt.Errorf("submit queue full") // sweep re-drives
	}
}

func (r *Repository) DequeueSubmit(ctx context.Context) (string, error) {
	select {
	case id := <-r.submitQueue:
		return id, nil
	case <-time.After(time.Second):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Repository) ScheduleRetry(_ context.Context, attemptID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[attemptID] = at
	return nil
}

func (r *Repository) DueRetries(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []string
	for id, at := range r.retries {
		if !at.After(now) {
			due = append(due, id)
			delete(r.retries, id)
		}
	}
	return due, nil
}

func (r *Repository) ClaimEvent(_ context.Context, dedupeKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.claims[dedupeKey] {
		return false, nil
	}
	r.claims[dedupeKey] = true
	return true, nil
}

func (r *Repository) ReleaseEvent(_ context.Context, dedupeKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, dedupeKey)
	return nil
}

func (r *Repository) AppendEvent(_ context.Context, ev delivery.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit log; test helper
func (r *Repository) Events() []delivery.WebhookEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]delivery.WebhookEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Repository) ListStale(_ context.Context, olderThan time.Time) ([]delivery.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []delivery.Attempt
	for _, a := range r.attempts {
		if !a.State.IsTerminal() && a.UpdatedAt.Before(olderThan) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Repository) CountByState(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, a := range r.attempts {
		counts[a.State.String()]++
	}
	return counts, nil
}

func (r *Repository) RetryQueueDepth(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.retries)), nil
}

func (r *Repository) SetWorkerHeartbeat(_ context.Context, hb delivery.WorkerHeartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats[hb.WorkerID] = hb
	return nil
}

func (r *Repository) ActiveWorkers(_ context.Context) ([]delivery.WorkerHeartbeat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-delivery.HeartbeatTTL)
	var workers []delivery.WorkerHeartbeat
	for _, hb := range r.heartbeats {
		if hb.LastHeartbeat.After(cutoff) {
			workers = append(workers, hb)
		}
	}
	return workers, nil
}

func (r *Repository) Close(_ context.Context) error {
	return nil
}
