package delivery

import "time"

/* Events are the only inputs the transition function accepts. Adapter
 * outcomes and reconciled webhooks are both expressed as events, which
 * keeps the state machine synchronous and total: no event loop needs
 * simulating to unit-test a transition.
 */

// EventKind identifies what happened to an attempt
type EventKind int

const (
	SubmitSucceeded EventKind = iota + 1
	SubmitFailedTransient
	SubmitFailedPermanent
	SubmitFailedAmbiguous
	WebhookConfirmed
	WebhookFailedRetryable
	WebhookFailedPermanent
	BackoffElapsed
	ManualRetry
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case SubmitSucceeded:
		return "submit_succeeded"
	case SubmitFailedTransient:
		return "submit_failed_transient"
	case SubmitFailedPermanent:
		return "submit_failed_permanent"
	case SubmitFailedAmbiguous:
		return "submit_failed_ambiguous"
	case WebhookConfirmed:
		return "webhook_confirmed"
	case WebhookFailedRetryable:
		return "webhook_failed_retryable"
	case WebhookFailedPermanent:
		return "webhook_failed_permanent"
	case BackoffElapsed:
		return "backoff_elapsed"
	case ManualRetry:
		return "manual_retry"
	default:
		return "unknown"
	}
}

// Event carries one occurrence to apply against an attempt
type Event struct {
	Kind EventKind

	// ExternalRef is the partner tracking id; set by submit success
	// and checked against the attempt by webhook events
	ExternalRef string

	// Err is the failure detail recorded on the attempt
	Err string

	// NextRetryAt is the already-computed backoff deadline for events
	// that may schedule a retry
	NextRetryAt time.Time

	// At is when the event occurred
	At time.Time
}
