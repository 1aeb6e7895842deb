package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/partner"
	"github.com/tunecast/distributor/release"
)

/* Redis implementation of delivery.Repository.
 * Attempts live in hashes with every state write going through a Lua
 * compare-and-swap on the state field; idempotency keys and webhook
 * dedupe claims are SETNX claims; the retry schedule is a sorted set
 * scored by due time; webhook events are appended to a stream for
 * audit.
 */

const (
	attemptPrefix  = "attempt:record"   // attempt:record:{id}; distinct from the index prefixes so state scans touch records only
	idemPrefix     = "attempt:idem"     // attempt:idem:{key} -> attempt id
	extRefPrefix   = "attempt:extref"   // attempt:extref:{partner}:{ref} -> attempt id
	releasePrefix  = "attempt:release"  // attempt:release:{release_id} (set of attempt ids)
	activeKey      = "attempts:active"  // set of non-terminal attempt ids
	deliverablePfx = "deliverable"      // deliverable:{content_hash}
	submitQueueKey = "delivery:submitq" // list
	retryQueueKey  = "delivery:retryq"  // zset scored by due time
	claimPrefix    = "webhook:claim"    // webhook:claim:{dedupe_key}
	eventStreamKey = "webhook:events"   // audit stream

	// claimTTL bounds dedupe memory; a partner redelivering the same
	// event a week later is applied against a terminal attempt anyway
	claimTTL = 7 * 24 * time.Hour

	dequeueBlock = time.Second
)

/* casScript transitions an attempt only when its state field still
 * matches the expected prior state. Returns 1 on success, 0 when the
 * writer lost the race, -1 when the attempt does not exist.
 */
var casScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "state") ~= ARGV[1] then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

/* dueScript pops every retry entry due at or before the given time
 * atomically, so two promoter goroutines never double-claim one
 * attempt.
 */
var dueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #due > 0 then
  redis.call("ZREM", KEYS[1], unpack(due))
end
return due
`)

type Repository struct {
	client *redis.Client
}

// NewRepository connects to Redis and verifies the connection
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{client: client}, nil
}

func attemptKey(id string) string { return fmt.Sprintf("%s:%s", attemptPrefix, id) }
func idemKey(key string) string   { return fmt.Sprintf("%s:%s", idemPrefix, key) }
func releaseKey(id string) string { return fmt.Sprintf("%s:%s", releasePrefix, id) }
func claimKey(key string) string  { return fmt.Sprintf("%s:%s", claimPrefix, key) }
func deliverableKey(h string) string {
	return fmt.Sprintf("%s:%s", deliverablePfx, h)
}
func extRefKey(partnerID, ref string) string {
	return fmt.Sprintf("%s:%s:%s", extRefPrefix, partnerID, ref)
}

/* CreateAttempt writes the attempt record first and only then
 * publishes the idempotency claim. The ordering means any claim a
 * racing creator can observe already points at a readable record; the
 * loser removes its own provisional record and returns the winner's.
 */
func (r *Repository) CreateAttempt(ctx context.Context, a delivery.Attempt) (delivery.Attempt, bool, error) {
	fields, err := attemptFields(a)
	if err != nil {
		return delivery.Attempt{}, false, err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, attemptKey(a.ID), fields)
	pipe.SAdd(ctx, releaseKey(a.ReleaseID), a.ID)
	pipe.SAdd(ctx, activeKey, a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return delivery.Attempt{}, false, fmt.Errorf("storing attempt: %w", err)
	}

	won, err := r.client.SetNX(ctx, idemKey(a.IdempotencyKey), a.ID, 0).Result()
	if err != nil {
		return delivery.Attempt{}, false, fmt.Errorf("claiming idempotency key: %w", err)
	}
	if won {
		return a, true, nil
	}

	// Lost the claim: discard the provisional record and hand back the
	// winner's
	pipe = r.client.TxPipeline()
	pipe.Del(ctx, attemptKey(a.ID))
	pipe.SRem(ctx, releaseKey(a.ReleaseID), a.ID)
	pipe.SRem(ctx, activeKey, a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return delivery.Attempt{}, false, fmt.Errorf("discarding provisional attempt: %w", err)
	}

	existingID, err := r.client.Get(ctx, idemKey(a.IdempotencyKey)).Result()
	if err != nil {
		return delivery.Attempt{}, false, fmt.Errorf("reading idempotency claim: %w", err)
	}
	existing, err := r.GetAttempt(ctx, existingID)
	if err != nil {
		return delivery.Attempt{}, false, fmt.Errorf("loading existing attempt: %w", err)
	}
	return existing, false, nil
}

// UpdateAttempt persists a transition conditionally on the prior state
func (r *Repository) UpdateAttempt(ctx context.Context, a delivery.Attempt, from delivery.State) error {
	fields, err := attemptFields(a)
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, from.String())
	for k, v := range fields {
		args = append(args, k, v)
	}

	res, err := casScript.Run(ctx, r.client, []string{attemptKey(a.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("updating attempt: %w", err)
	}
	switch res {
	case -1:
		return delivery.ErrAttemptNotFound
	case 0:
		return delivery.ErrConflict
	}

	// Auxiliary indexes after the CAS won: external-ref lookup for the
	// reconciler, active-set membership for the sweep
	pipe := r.client.TxPipeline()
	if a.ExternalRef != "" {
		pipe.Set(ctx, extRefKey(a.PartnerID, a.ExternalRef), a.ID, 0)
	}
	if a.State.IsTerminal() {
		pipe.SRem(ctx, activeKey, a.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("updating attempt indexes: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by id
func (r *Repository) GetAttempt(ctx context.Context, id string) (delivery.Attempt, error) {
	data, err := r.client.HGetAll(ctx, attemptKey(id)).Result()
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("getting attempt: %w", err)
	}
	if len(data) == 0 {
		return delivery.Attempt{}, delivery.ErrAttemptNotFound
	}
	return attemptFromFields(data)
}

// GetByIdempotencyKey resolves the attempt holding an idempotency key
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (delivery.Attempt, error) {
	id, err := r.client.Get(ctx, idemKey(key)).Result()
	if err == redis.Nil {
		return delivery.Attempt{}, delivery.ErrAttemptNotFound
	}
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("resolving idempotency key: %w", err)
	}
	return r.GetAttempt(ctx, id)
}

// FindByExternalRef locates the attempt a partner webhook refers to
func (r *Repository) FindByExternalRef(ctx context.Context, partnerID, externalRef string) (delivery.Attempt, error) {
	id, err := r.client.Get(ctx, extRefKey(partnerID, externalRef)).Result()
	if err == redis.Nil {
		return delivery.Attempt{}, delivery.ErrAttemptNotFound
	}
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("resolving external ref: %w", err)
	}
	return r.GetAttempt(ctx, id)
}

// ListByRelease returns every attempt created for a release
func (r *Repository) ListByRelease(ctx context.Context, releaseID string) ([]delivery.Attempt, error) {
	ids, err := r.client.SMembers(ctx, releaseKey(releaseID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing release attempts: %w", err)
	}
	attempts := make([]delivery.Attempt, 0, len(ids))
	for _, id := range ids {
		a, err := r.GetAttempt(ctx, id)
		if err != nil {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// PutDeliverable stores the canonical deliverable keyed by content hash
func (r *Repository) PutDeliverable(ctx context.Context, d release.Deliverable) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling deliverable: %w", err)
	}
	if err := r.client.Set(ctx, deliverableKey(d.ContentHash), data, 0).Err(); err != nil {
		return fmt.Errorf("storing deliverable: %w", err)
	}
	return nil
}

// GetDeliverable loads the canonical deliverable for a content hash
func (r *Repository) GetDeliverable(ctx context.Context, contentHash string) (release.Deliverable, error) {
	data, err := r.client.Get(ctx, deliverableKey(contentHash)).Bytes()
	if err == redis.Nil {
		return release.Deliverable{}, delivery.ErrAttemptNotFound
	}
	if err != nil {
		return release.Deliverable{}, fmt.Errorf("getting deliverable: %w", err)
	}
	var d release.Deliverable
	if err := json.Unmarshal(data, &d); err != nil {
		return release.Deliverable{}, fmt.Errorf("unmarshaling deliverable: %w", err)
	}
	return d, nil
}

// EnqueueSubmit pushes a submit work item
func (r *Repository) EnqueueSubmit(ctx context.Context, attemptID string) error {
	if err := r.client.LPush(ctx, submitQueueKey, attemptID).Err(); err != nil {
		return fmt.Errorf("enqueueing submit: %w", err)
	}
	return nil
}

// DequeueSubmit blocks until a work item arrives or the block interval
// elapses; returns "" on an empty poll
func (r *Repository) DequeueSubmit(ctx context.Context) (string, error) {
	res, err := r.client.BRPop(ctx, dequeueBlock, submitQueueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeuing submit: %w", err)
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// ScheduleRetry records an attempt's backoff deadline
func (r *Repository) ScheduleRetry(ctx context.Context, attemptID string, at time.Time) error {
	member := redis.Z{Score: float64(at.Unix()), Member: attemptID}
	if err := r.client.ZAdd(ctx, retryQueueKey, member).Err(); err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return nil
}

// DueRetries atomically pops attempts whose backoff elapsed
func (r *Repository) DueRetries(ctx context.Context, now time.Time) ([]string, error) {
	res, err := dueScript.Run(ctx, r.client, []string{retryQueueKey}, now.Unix()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("popping due retries: %w", err)
	}
	return res, nil
}

// ClaimEvent marks a webhook dedupe key consumed
func (r *Repository) ClaimEvent(ctx context.Context, dedupeKey string) (bool, error) {
	claimed, err := r.client.SetNX(ctx, claimKey(dedupeKey), time.Now().Unix(), claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claiming webhook event: %w", err)
	}
	return claimed, nil
}

// ReleaseEvent undoes an event claim
func (r *Repository) ReleaseEvent(ctx context.Context, dedupeKey string) error {
	if err := r.client.Del(ctx, claimKey(dedupeKey)).Err(); err != nil {
		return fmt.Errorf("releasing webhook event claim: %w", err)
	}
	return nil
}

// AppendEvent writes the immutable audit record to the event stream
func (r *Repository) AppendEvent(ctx context.Context, ev delivery.WebhookEvent) error {
	_, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStreamKey,
		Values: map[string]interface{}{
			"id":           ev.ID,
			"partner_id":   ev.PartnerID,
			"event_id":     ev.EventID,
			"external_ref": ev.ExternalRef,
			"outcome":      ev.Outcome,
			"raw":          ev.Raw,
			"verified":     fmt.Sprintf("%t", ev.Verified),
			"received_at":  ev.ReceivedAt.Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("appending webhook event: %w", err)
	}
	return nil
}

// ListStale returns non-terminal attempts not updated since olderThan
func (r *Repository) ListStale(ctx context.Context, olderThan time.Time) ([]delivery.Attempt, error) {
	ids, err := r.client.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active attempts: %w", err)
	}
	var stale []delivery.Attempt
	for _, id := range ids {
		a, err := r.GetAttempt(ctx, id)
		if err != nil {
			continue
		}
		if !a.State.IsTerminal() && a.UpdatedAt.Before(olderThan) {
			stale = append(stale, a)
		}
	}
	return stale, nil
}

// CountByState counts attempts per state by scanning attempt records
func (r *Repository) CountByState(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, attemptPrefix+":*", 256).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning attempts: %w", err)
		}
		for _, key := range keys {
			state, err := r.client.HGet(ctx, key, "state").Result()
			if err != nil {
				continue
			}
			counts[state]++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return counts, nil
}

// RetryQueueDepth returns how many attempts are waiting out a backoff
func (r *Repository) RetryQueueDepth(ctx context.Context) (int64, error) {
	depth, err := r.client.ZCard(ctx, retryQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring retry queue: %w", err)
	}
	return depth, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// Serialization helpers

func attemptFields(a delivery.Attempt) (map[string]interface{}, error) {
	partnerJSON, err := json.Marshal(a.Partner)
	if err != nil {
		return nil, fmt.Errorf("marshaling partner snapshot: %w", err)
	}
	return map[string]interface{}{
		"id":              a.ID,
		"release_id":      a.ReleaseID,
		"content_hash":    a.ContentHash,
		"partner_id":      a.PartnerID,
		"partner":         string(partnerJSON),
		"idempotency_key": a.IdempotencyKey,
		"state":           a.State.String(),
		"attempt_count":   a.AttemptCount,
		"ambiguous_count": a.AmbiguousCount,
		"external_ref":    a.ExternalRef,
		"last_error":      a.LastError,
		"next_retry_at":   a.NextRetryAt.Unix(),
		"last_attempt_at": a.LastAttemptAt.Unix(),
		"sweep_count":     a.SweepCount,
		"created_at":      a.CreatedAt.Unix(),
		"updated_at":      a.UpdatedAt.Unix(),
	}, nil
}

func attemptFromFields(data map[string]string) (delivery.Attempt, error) {
	var p partner.Partner
	if raw, ok := data["partner"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return delivery.Attempt{}, fmt.Errorf("unmarshaling partner snapshot: %w", err)
		}
	}
	return delivery.Attempt{
		ID:             data["id"],
		ReleaseID:      data["release_id"],
		ContentHash:    data["content_hash"],
		PartnerID:      data["partner_id"],
		Partner:        p,
		IdempotencyKey: data["idempotency_key"],
		State:          delivery.NewState(data["state"]),
		AttemptCount:   int(parseInt64(data["attempt_count"])),
		AmbiguousCount: int(parseInt64(data["ambiguous_count"])),
		ExternalRef:    data["external_ref"],
		LastError:      data["last_error"],
		NextRetryAt:    time.Unix(parseInt64(data["next_retry_at"]), 0),
		LastAttemptAt:  time.Unix(parseInt64(data["last_attempt_at"]), 0),
		SweepCount:     int(parseInt64(data["sweep_count"])),
		CreatedAt:      time.Unix(parseInt64(data["created_at"]), 0),
		UpdatedAt:      time.Unix(parseInt64(data["updated_at"]), 0),
	}, nil
}

func parseInt64(s string) int64 {
	var result int64
	fmt.Sscanf(s, "%d", &result)
	return result
}
