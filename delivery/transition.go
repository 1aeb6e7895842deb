package delivery

import "fmt"

/* Apply is the authoritative transition function. It is pure: given an
 * attempt and an event it returns the next attempt value or an error,
 * mutating nothing. Persistence of the result is the caller's job and
 * happens as a conditional update on the prior state, so racing
 * writers produce exactly one winner.
 *
 * Terminal states absorb everything. A late or duplicate webhook
 * against a Confirmed/Rejected/Failed attempt comes back as
 * ErrTerminalState and is logged and discarded by callers, never
 * re-opening the attempt.
 */
func Apply(a Attempt, ev Event) (Attempt, error) {
	if a.State.IsTerminal() {
		return a, fmt.Errorf("applying %s to %s attempt %s: %w", ev.Kind, a.State, a.ID, ErrTerminalState)
	}

	next := a
	next.UpdatedAt = ev.At

	switch a.State {
	case Pending:
		switch ev.Kind {
		case SubmitSucceeded:
			next.State = Submitted
			next.AttemptCount++
			next.ExternalRef = ev.ExternalRef
			next.LastError = ""
			next.LastAttemptAt = ev.At
			return next, nil
		case SubmitFailedTransient, SubmitFailedAmbiguous:
			next.AttemptCount++
			if ev.Kind == SubmitFailedAmbiguous {
				next.AmbiguousCount++
			}
			next.LastError = ev.Err
			next.LastAttemptAt = ev.At
			if next.RetryExhausted() {
				next.State = Failed
				return next, nil
			}
			next.State = RetryScheduled
			next.NextRetryAt = ev.NextRetryAt
			return next, nil
		case SubmitFailedPermanent:
			next.State = Rejected
			next.AttemptCount++
			next.LastError = ev.Err
			next.LastAttemptAt = ev.At
			return next, nil
		}

	case Submitted:
		switch ev.Kind {
		case WebhookConfirmed:
			if ev.ExternalRef != a.ExternalRef {
				return a, fmt.Errorf("attempt %s expects ref %q, webhook carries %q: %w",
					a.ID, a.ExternalRef, ev.ExternalRef, ErrExternalRefMismatch)
			}
			next.State = Confirmed
			next.LastError = ""
			return next, nil
		case WebhookFailedRetryable:
			next.LastError = ev.Err
			if a.AttemptCount >= a.Partner.Retry.MaxRetries {
				next.State = Failed
				return next, nil
			}
			next.State = RetryScheduled
			next.NextRetryAt = ev.NextRetryAt
			return next, nil
		case WebhookFailedPermanent:
			next.State = Rejected
			next.LastError = ev.Err
			return next, nil
		}

	case RetryScheduled:
		if ev.Kind == BackoffElapsed {
			next.State = Pending
			next.NextRetryAt = ev.At // zeroed semantically; kept for audit
			return next, nil
		}
		// A webhook can still resolve an attempt waiting out its
		// backoff, e.g. when the partner recovered on its own
		switch ev.Kind {
		case WebhookConfirmed:
			if ev.ExternalRef != a.ExternalRef || a.ExternalRef == "" {
				return a, fmt.Errorf("attempt %s expects ref %q, webhook carries %q: %w",
					a.ID, a.ExternalRef, ev.ExternalRef, ErrExternalRefMismatch)
			}
			next.State = Confirmed
			next.LastError = ""
			return next, nil
		case WebhookFailedPermanent:
			next.State = Rejected
			next.LastError = ev.Err
			return next, nil
		}
	}

	return a, fmt.Errorf("applying %s to %s attempt %s: %w", ev.Kind, a.State, a.ID, ErrInvalidTransition)
}

/* Reopen moves a Failed attempt back into the retry loop for manual
 * re-dispatch. It is deliberately separate from Apply: Failed is
 * terminal for the engine, and only an operator action may leave it.
 * Rejected attempts stay closed; re-delivering content a partner
 * rejected needs a fresh distribution request, not a retry.
 */
func Reopen(a Attempt, ev Event) (Attempt, error) {
	if ev.Kind != ManualRetry {
		return a, fmt.Errorf("reopening attempt %s with %s: %w", a.ID, ev.Kind, ErrInvalidTransition)
	}
	if a.State != Failed {
		return a, fmt.Errorf("reopening %s attempt %s: %w", a.State, a.ID, ErrInvalidTransition)
	}
	next := a
	next.State = RetryScheduled
	next.NextRetryAt = ev.NextRetryAt
	next.AttemptCount = 0
	next.AmbiguousCount = 0
	next.SweepCount = 0
	next.LastError = ""
	next.UpdatedAt = ev.At
	return next, nil
}
