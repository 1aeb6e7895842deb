package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

/* Sweeper periodically re-drives stuck non-terminal attempts: work
 * that was persisted but never enqueued (crash between persist and
 * enqueue), submits cancelled by a shutdown, and retries whose
 * schedule entry went missing. An attempt that keeps resurfacing is
 * escalated after a bounded number of cycles instead of being retried
 * forever.
 */
type Sweeper struct {
	Repo    Repository
	Pool    *Pool
	Log     zerolog.Logger
	Metrics Instrumentation

	// StaleAfter is the age past which a non-terminal attempt counts
	// as stuck
	StaleAfter time.Duration

	// MaxCycles bounds how often one attempt may be re-driven by the
	// sweep before escalation
	MaxCycles int
}

// NewSweeper creates a recovery sweeper
func NewSweeper(repo Repository, pool *Pool, log zerolog.Logger, staleAfter time.Duration, maxCycles int) *Sweeper {
	if maxCycles < 1 {
		maxCycles = 5
	}
	return &Sweeper{
		Repo:       repo,
		Pool:       pool,
		Log:        log,
		Metrics:    NopInstrumentation(),
		StaleAfter: staleAfter,
		MaxCycles:  maxCycles,
	}
}

// Run executes the sweep on the given interval until the context ends
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.Log.Error().Err(err).Msg("recovery sweep failed")
			}
		}
	}
}

// Sweep runs one recovery pass
func (s *Sweeper) Sweep(ctx context.Context) error {
	stale, err := s.Repo.ListStale(ctx, time.Now().Add(-s.StaleAfter))
	if err != nil {
		return err
	}

	for _, attempt := range stale {
		if attempt.State.IsTerminal() {
			continue
		}
		if attempt.SweepCount >= s.MaxCycles {
			recErr := &RecoveryError{AttemptID: attempt.ID, Cycles: attempt.SweepCount}
			s.Metrics.SweepEscalated()
			s.Log.Error().
				Str("attempt_id", attempt.ID).
				Str("partner_id", attempt.PartnerID).
				Str("state", attempt.State.String()).
				Msg(recErr.Error())
			continue
		}

		switch attempt.State {
		case Pending:
			s.redrive(ctx, attempt)
		case RetryScheduled:
			// Backoff long elapsed but the schedule never fired
			if time.Now().After(attempt.NextRetryAt) {
				if _, ok := s.bumpSweepCount(ctx, attempt); ok {
					s.Pool.PromoteRetry(ctx, attempt.ID)
				}
			}
		case Submitted:
			// Awaiting the partner; re-submitting could double-deliver,
			// so only surface it
			s.Log.Warn().
				Str("attempt_id", attempt.ID).
				Str("partner_id", attempt.PartnerID).
				Dur("age", time.Since(attempt.UpdatedAt)).
				Msg("submitted attempt has no partner resolution yet")
		}
	}
	return nil
}

func (s *Sweeper) redrive(ctx context.Context, attempt Attempt) {
	marked, ok := s.bumpSweepCount(ctx, attempt)
	if !ok {
		return
	}
	if err := s.Repo.EnqueueSubmit(ctx, marked.ID); err != nil {
		s.Log.Error().Err(err).Str("attempt_id", marked.ID).Msg("re-enqueueing stuck attempt")
		return
	}
	s.Log.Info().
		Str("attempt_id", marked.ID).
		Str("partner_id", marked.PartnerID).
		Int("sweep_count", marked.SweepCount).
		Msg("stuck attempt re-driven")
}

/* bumpSweepCount records the re-drive on the attempt so escalation
 * can trigger after MaxCycles. The write is conditional on the state
 * being unchanged; losing the race means the attempt made progress on
 * its own, which is fine.
 */
func (s *Sweeper) bumpSweepCount(ctx context.Context, attempt Attempt) (Attempt, bool) {
	next := attempt
	next.SweepCount++
	next.UpdatedAt = time.Now()
	if err := s.Repo.UpdateAttempt(ctx, next, attempt.State); err != nil {
		if !errors.Is(err, ErrConflict) {
			s.Log.Error().Err(err).Str("attempt_id", attempt.ID).Msg("recording sweep cycle")
		}
		return attempt, false
	}
	return next, true
}
