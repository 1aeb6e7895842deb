package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tunecast/distributor/adapter"
	"github.com/tunecast/distributor/partner"
)

/* Reconciler maps asynchronous partner callbacks onto tracked
 * attempts. Nothing is mutated until the payload is authenticated and
 * deduplicated, and the transition itself is a conditional update, so
 * duplicated, forged and out-of-order webhooks all collapse into
 * no-ops.
 */

// ReconcileOutcome reports what a webhook did to the system
type ReconcileOutcome int

const (
	// Applied: the event transitioned its attempt
	Applied ReconcileOutcome = iota + 1
	// Duplicate: the event was already consumed; no-op
	Duplicate
	// Discarded: the attempt is terminal; logged, not applied
	Discarded
	// Unmatched: no attempt matches yet (submit-response race); the
	// event is retried once after a short delay
	Unmatched
)

// String returns the string representation of the outcome
func (o ReconcileOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Discarded:
		return "discarded"
	case Unmatched:
		return "unmatched"
	default:
		return "unknown"
	}
}

const (
	// unmatchedRetryDelay is how long to wait before re-trying a
	// webhook that raced ahead of its submit response
	unmatchedRetryDelay = 2 * time.Second

	// casRetries bounds re-reads when a conditional update loses
	casRetries = 3
)

type Reconciler struct {
	Repo     Repository
	Adapters *adapter.Registry
	Partners *partner.Registry
	Log      zerolog.Logger
	Metrics  Instrumentation

	// deferred tracks in-flight delayed re-reconciles for shutdown
	deferred sync.WaitGroup
}

// NewReconciler creates a reconciler with dependency injection
func NewReconciler(repo Repository, adapters *adapter.Registry, partners *partner.Registry, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Repo:     repo,
		Adapters: adapters,
		Partners: partners,
		Log:      log,
		Metrics:  NopInstrumentation(),
	}
}

/* Reconcile ingests one inbound webhook:
 * authenticate -> dedupe-claim -> locate attempt -> guarded transition
 * -> audit record. Authenticity failures never mutate state; an
 * unverifiable or unmappable payload comes back as ReconciliationError.
 * An event that arrives before its submit response is recorded is
 * retried once after a short delay rather than dropped.
 */
func (r *Reconciler) Reconcile(ctx context.Context, partnerID string, headers http.Header, payload []byte) (ReconcileOutcome, error) {
	outcome, err := r.reconcileOnce(ctx, partnerID, headers, payload, false)
	if outcome != 0 {
		r.Metrics.WebhookReconciled(outcome)
	}
	if outcome == Unmatched {
		r.retryLater(partnerID, headers, payload)
	}
	return outcome, err
}

/* reconcileOnce runs one reconciliation pass. lastTry marks the
 * deferred re-run: an event still unmatched then is recorded for
 * audit before being surrendered to a partner redelivery.
 */
func (r *Reconciler) reconcileOnce(ctx context.Context, partnerID string, headers http.Header, payload []byte, lastTry bool) (ReconcileOutcome, error) {
	p, err := r.Partners.Get(partnerID)
	if err != nil {
		return 0, &ReconciliationError{PartnerID: partnerID, Reason: "unknown partner", Err: err}
	}
	ad, err := r.Adapters.ForPartner(p)
	if err != nil {
		return 0, &ReconciliationError{PartnerID: partnerID, Reason: "no adapter", Err: err}
	}

	parsed, err := ad.ParseWebhook(p, headers, payload)
	if err != nil {
		return 0, &ReconciliationError{PartnerID: partnerID, Reason: "rejected payload", Err: err}
	}

	record := WebhookEvent{
		ID:          uuid.New().String(),
		PartnerID:   partnerID,
		EventID:     parsed.EventID,
		ExternalRef: parsed.ExternalRef,
		Outcome:     parsed.Outcome.String(),
		Raw:         payload,
		Verified:    true,
		ReceivedAt:  time.Now(),
	}

	claimed, err := r.Repo.ClaimEvent(ctx, record.DedupeKey())
	if err != nil {
		return 0, fmt.Errorf("claiming event: %w", err)
	}
	if !claimed {
		r.Log.Debug().
			Str("partner_id", partnerID).
			Str("event_id", parsed.EventID).
			Msg("duplicate webhook ignored")
		return Duplicate, nil
	}

	outcome, err := r.apply(ctx, p, parsed, record)
	if outcome != Applied && outcome != Discarded {
		/* No transition was consumed: unmatched events, store errors
		 * and exhausted conditional updates all surrender the claim so
		 * a partner redelivery (or our own deferred retry) can still
		 * drive the transition.
		 */
		if relErr := r.Repo.ReleaseEvent(ctx, record.DedupeKey()); relErr != nil {
			r.Log.Error().Err(relErr).Str("event_id", parsed.EventID).Msg("releasing unapplied event claim")
		}
	}
	if lastTry && outcome == Unmatched {
		r.audit(ctx, record)
	}
	return outcome, err
}

func (r *Reconciler) apply(ctx context.Context, p partner.Partner, parsed adapter.ParsedEvent, record WebhookEvent) (ReconcileOutcome, error) {
	for i := 0; i < casRetries; i++ {
		attempt, err := r.Repo.FindByExternalRef(ctx, p.ID, parsed.ExternalRef)
		if err != nil {
			if errors.Is(err, ErrAttemptNotFound) {
				return Unmatched, fmt.Errorf("no attempt for partner %s ref %s: %w", p.ID, parsed.ExternalRef, err)
			}
			return 0, fmt.Errorf("locating attempt: %w", err)
		}

		ev := Event{
			Kind:        eventKindFor(parsed.Outcome),
			ExternalRef: parsed.ExternalRef,
			Err:         parsed.Message,
			At:          time.Now(),
		}
		if ev.Kind == WebhookFailedRetryable {
			ev.NextRetryAt = time.Now().Add(NextDelay(attempt.Partner.Retry, attempt.AttemptCount))
		}

		next, err := Apply(attempt, ev)
		if err != nil {
			if errors.Is(err, ErrTerminalState) {
				r.Log.Info().
					Str("attempt_id", attempt.ID).
					Str("state", attempt.State.String()).
					Str("event", ev.Kind.String()).
					Msg("late webhook against terminal attempt discarded")
				r.audit(ctx, record)
				return Discarded, nil
			}
			return 0, fmt.Errorf("applying webhook event: %w", err)
		}

		if err := r.Repo.UpdateAttempt(ctx, next, attempt.State); err != nil {
			if errors.Is(err, ErrConflict) {
				continue // someone transitioned first; re-read and re-guard
			}
			return 0, fmt.Errorf("persisting transition: %w", err)
		}

		if next.State == RetryScheduled {
			if err := r.Repo.ScheduleRetry(ctx, next.ID, next.NextRetryAt); err != nil {
				r.Log.Error().Err(err).Str("attempt_id", next.ID).Msg("scheduling webhook-driven retry")
			}
		}

		r.audit(ctx, record)
		r.Log.Info().
			Str("attempt_id", next.ID).
			Str("partner_id", p.ID).
			Str("from", attempt.State.String()).
			Str("to", next.State.String()).
			Msg("webhook reconciled")
		return Applied, nil
	}
	return 0, fmt.Errorf("attempt %s/%s: %w", p.ID, parsed.ExternalRef, ErrConflict)
}

func (r *Reconciler) audit(ctx context.Context, record WebhookEvent) {
	if err := r.Repo.AppendEvent(ctx, record); err != nil {
		r.Log.Error().Err(err).Str("event_id", record.EventID).Msg("appending webhook audit record")
	}
}

/* retryLater re-runs reconciliation for an unmatched event once.
 * Detached from the request context so the HTTP response returning
 * does not cancel the deferred work. A second miss is logged and the
 * event left unconsumed for a partner redelivery to pick up.
 */
func (r *Reconciler) retryLater(partnerID string, headers http.Header, payload []byte) {
	r.deferred.Add(1)
	go func() {
		defer r.deferred.Done()
		time.Sleep(unmatchedRetryDelay)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		outcome, err := r.reconcileOnce(ctx, partnerID, headers, payload, true)
		if outcome != 0 {
			r.Metrics.WebhookReconciled(outcome)
		}
		if err != nil {
			r.Log.Warn().Err(err).
				Str("partner_id", partnerID).
				Str("outcome", outcome.String()).
				Msg("deferred webhook reconciliation failed")
		}
	}()
}

// Drain waits for deferred re-reconciles to finish; called on shutdown
func (r *Reconciler) Drain() {
	r.deferred.Wait()
}

func eventKindFor(o adapter.Outcome) EventKind {
	switch o {
	case adapter.OutcomeSuccess:
		return WebhookConfirmed
	case adapter.OutcomeRetryableFailure:
		return WebhookFailedRetryable
	default:
		return WebhookFailedPermanent
	}
}
