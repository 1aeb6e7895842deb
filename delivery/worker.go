package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunecast/distributor/adapter"
)

/* Pool executes submit work items. Attempts across partners run
 * concurrently; work for a single attempt is serialized by a per-id
 * lock, and submits against one partner are capped by that partner's
 * configured concurrency. No lock is held across the store reads, the
 * backoff waits, or the adapter call for any attempt other than the
 * one being mutated.
 */
type Pool struct {
	Repo     Repository
	Adapters *adapter.Registry
	Log      zerolog.Logger
	Workers  int

	locks keyedMutex
	slots partnerSlots

	// retryPollInterval controls how often the due-retry scan runs
	retryPollInterval time.Duration
}

// NewPool creates a worker pool with dependency injection
func NewPool(repo Repository, adapters *adapter.Registry, log zerolog.Logger, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		Repo:              repo,
		Adapters:          adapters,
		Log:               log,
		Workers:           workers,
		retryPollInterval: time.Second,
	}
}

// Run blocks consuming work until the context ends
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.consume(ctx, workerID)
		}(fmt.Sprintf("worker-%d", i+1))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoteRetries(ctx)
	}()

	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, workerID string) {
	var lastBeat time.Time

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastBeat) > HeartbeatTTL/2 {
			p.heartbeat(ctx, workerID, "idle", "")
			lastBeat = time.Now()
		}
		id, err := p.Repo.DequeueSubmit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Log.Error().Err(err).Msg("dequeuing submit work")
			continue
		}
		if id == "" {
			continue // poll interval elapsed with nothing queued
		}
		p.heartbeat(ctx, workerID, "submitting", id)
		p.Process(ctx, id)
		p.heartbeat(ctx, workerID, "idle", "")
		lastBeat = time.Now()
	}
}

// heartbeat publishes worker liveness; failures never interrupt work
func (p *Pool) heartbeat(ctx context.Context, workerID, status, attemptID string) {
	hb := WorkerHeartbeat{
		WorkerID:      workerID,
		AttemptID:     attemptID,
		Status:        status,
		LastHeartbeat: time.Now(),
	}
	if err := p.Repo.SetWorkerHeartbeat(ctx, hb); err != nil && ctx.Err() == nil {
		p.Log.Debug().Err(err).Str("worker_id", workerID).Msg("publishing worker heartbeat")
	}
}

/* Process runs one submit cycle for an attempt. A cancelled submit
 * leaves the attempt Pending so the recovery sweep re-drives it;
 * nothing is transitioned on our own shutdown.
 */
func (p *Pool) Process(ctx context.Context, attemptID string) {
	unlock := p.locks.Lock(attemptID)
	defer unlock()

	attempt, err := p.Repo.GetAttempt(ctx, attemptID)
	if err != nil {
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("loading attempt for submit")
		return
	}
	if attempt.State != Pending {
		// Resolved or rescheduled while queued; stale work item
		return
	}

	ad, err := p.Adapters.ForPartner(attempt.Partner)
	if err != nil {
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("resolving adapter")
		return
	}

	deliverable, err := p.Repo.GetDeliverable(ctx, attempt.ContentHash)
	if err != nil {
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("loading deliverable")
		return
	}

	release := p.slots.acquire(ctx, attempt.PartnerID, attempt.Partner.MaxConcurrency)
	if release == nil {
		return // context ended while waiting for a partner slot
	}
	result, submitErr := ad.Submit(ctx, deliverable, attempt.Partner)
	release()

	now := time.Now()
	var ev Event
	switch {
	case submitErr == nil:
		ev = Event{Kind: SubmitSucceeded, ExternalRef: result.ExternalRef, At: now}

	case ctx.Err() != nil && (errors.Is(submitErr, context.Canceled) || errors.Is(submitErr, context.DeadlineExceeded)):
		/* Cancelled from our side: stay Pending for the sweep. Gated
		 * on our own context so a partner-side timeout, whose error
		 * chain also carries DeadlineExceeded through the HTTP client,
		 * still runs through the transient classification below.
		 */
		p.Log.Info().Str("attempt_id", attemptID).Msg("submit cancelled, leaving attempt pending")
		return

	default:
		var perr *adapter.PartnerError
		class := adapter.Ambiguous
		if errors.As(submitErr, &perr) {
			class = perr.Class
		}
		switch class {
		case adapter.Permanent:
			ev = Event{Kind: SubmitFailedPermanent, Err: submitErr.Error(), At: now}
		case adapter.Transient:
			ev = Event{Kind: SubmitFailedTransient, Err: submitErr.Error(), At: now}
		default:
			ev = Event{Kind: SubmitFailedAmbiguous, Err: submitErr.Error(), At: now}
		}
		if ev.Kind != SubmitFailedPermanent {
			ev.NextRetryAt = now.Add(NextDelay(attempt.Partner.Retry, attempt.AttemptCount+1))
		}
	}

	next, err := Apply(attempt, ev)
	if err != nil {
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("applying submit outcome")
		return
	}
	if err := p.Repo.UpdateAttempt(ctx, next, Pending); err != nil {
		if errors.Is(err, ErrConflict) {
			// A webhook or sweep won the race; their transition stands
			p.Log.Debug().Str("attempt_id", attemptID).Msg("submit outcome lost conditional update")
			return
		}
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("persisting submit outcome")
		return
	}

	switch next.State {
	case RetryScheduled:
		if err := p.Repo.ScheduleRetry(ctx, next.ID, next.NextRetryAt); err != nil {
			p.Log.Error().Err(err).Str("attempt_id", next.ID).Msg("scheduling retry")
		}
	case Failed:
		p.Log.Warn().
			Str("attempt_id", next.ID).
			Str("partner_id", next.PartnerID).
			Int("attempts", next.AttemptCount).
			Msg("retries exhausted, attempt failed and surfaced for manual review")
	case Rejected:
		p.Log.Warn().
			Str("attempt_id", next.ID).
			Str("partner_id", next.PartnerID).
			Str("error", next.LastError).
			Msg("partner permanently rejected delivery")
	case Submitted:
		p.Log.Info().
			Str("attempt_id", next.ID).
			Str("partner_id", next.PartnerID).
			Str("external_ref", next.ExternalRef).
			Msg("delivery submitted, awaiting partner confirmation")
	}
}

/* promoteRetries moves attempts whose backoff elapsed back into the
 * submit queue via the RetryScheduled -> Pending transition.
 */
func (p *Pool) promoteRetries(ctx context.Context) {
	ticker := time.NewTicker(p.retryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		due, err := p.Repo.DueRetries(ctx, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				p.Log.Error().Err(err).Msg("scanning due retries")
			}
			continue
		}
		for _, id := range due {
			p.PromoteRetry(ctx, id)
		}
	}
}

// PromoteRetry applies BackoffElapsed to one attempt and enqueues it
func (p *Pool) PromoteRetry(ctx context.Context, attemptID string) {
	unlock := p.locks.Lock(attemptID)
	defer unlock()

	attempt, err := p.Repo.GetAttempt(ctx, attemptID)
	if err != nil {
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("loading attempt for retry promotion")
		return
	}
	if attempt.State != RetryScheduled {
		return // resolved by a webhook while waiting out the backoff
	}

	next, err := Apply(attempt, Event{Kind: BackoffElapsed, At: time.Now()})
	if err != nil {
		p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("applying backoff elapsed")
		return
	}
	if err := p.Repo.UpdateAttempt(ctx, next, RetryScheduled); err != nil {
		if !errors.Is(err, ErrConflict) {
			p.Log.Error().Err(err).Str("attempt_id", attemptID).Msg("persisting retry promotion")
		}
		return
	}
	if err := p.Repo.EnqueueSubmit(ctx, attemptID); err != nil {
		// Pending and persisted; the sweep will find it
		p.Log.Warn().Err(err).Str("attempt_id", attemptID).Msg("enqueue after retry promotion failed")
	}
}

/* keyedMutex serializes work per attempt id without one global lock.
 * Entries are reference-counted and removed when the last holder
 * unlocks.
 */
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id string) (unlock func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*lockEntry)
	}
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}

/* partnerSlots caps concurrent submits per partner using lazily
 * created weighted channels sized from the partner snapshot.
 */
type partnerSlots struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// acquire blocks for a slot; returns nil if the context ended first
func (s *partnerSlots) acquire(ctx context.Context, partnerID string, max int) (release func()) {
	s.mu.Lock()
	if s.slots == nil {
		s.slots = make(map[string]chan struct{})
	}
	ch, ok := s.slots[partnerID]
	if !ok {
		if max < 1 {
			max = 1
		}
		ch = make(chan struct{}, max)
		s.slots[partnerID] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }
	case <-ctx.Done():
		return nil
	}
}
