package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tunecast/distributor/partner"
	"github.com/tunecast/distributor/release"
)

/* Each partner protocol gets its own Adapter implementation,
 * registered by protocol at startup. Polymorphism over a small
 * capability set replaces per-partner branching in shared delivery
 * code, and keeps partner-specific quirks testable in isolation.
 */

// Adapter translates the canonical deliverable into one partner's
// request shape and interprets what comes back
type Adapter interface {
	/* Submit pushes a deliverable at the partner. Every failure is
	 * classified Transient, Permanent or Ambiguous through
	 * PartnerError; context cancellation is surfaced as the context's
	 * own error, never as a classified failure.
	 */
	Submit(ctx context.Context, d release.Deliverable, p partner.Partner) (SubmitResult, error)

	/* Takedown asks the partner to remove a previously delivered
	 * release, addressed by the tracking id the partner issued at
	 * submit time. Failures are classified like Submit's.
	 */
	Takedown(ctx context.Context, externalRef string, p partner.Partner) error

	/* ParseWebhook verifies and maps an inbound callback. It fails
	 * closed: anything that cannot be authenticated or mapped to a
	 * known shape is an error, never a speculative event.
	 */
	ParseWebhook(p partner.Partner, headers http.Header, payload []byte) (ParsedEvent, error)
}

// SubmitResult is the synchronous acceptance from a partner
type SubmitResult struct {
	// ExternalRef is the partner's own tracking id for this delivery
	ExternalRef string
	Message     string
}

// Outcome is the delivery result a webhook reports
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeRetryableFailure
	OutcomePermanentFailure
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	case OutcomePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// ParsedEvent is a verified, canonicalized partner callback
type ParsedEvent struct {
	// EventID is the partner's own event id when it supplies one
	EventID     string
	ExternalRef string
	Outcome     Outcome
	Message     string
	OccurredAt  time.Time
}

// Classification buckets a submit failure for the retry policy
type Classification int

const (
	// Transient failures (network, timeout, 5xx, throttling) are
	// retried under the partner's backoff policy
	Transient Classification = iota + 1
	// Permanent failures (partner-side validation rejection) are not
	Permanent
	// Ambiguous failures (unrecognizable response) retry under the
	// lower ambiguous ceiling
	Ambiguous
)

// String returns the string representation of the classification
func (c Classification) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// PartnerError is a classified submit failure
type PartnerError struct {
	PartnerID string
	Class     Classification
	Err       error
}

func (e *PartnerError) Error() string {
	return fmt.Sprintf("partner %s: %s failure: %v", e.PartnerID, e.Class, e.Err)
}

func (e *PartnerError) Unwrap() error { return e.Err }

/* Registry maps protocols to adapters. Populated once at startup;
 * read-only afterwards.
 */
type Registry struct {
	byProtocol map[partner.Protocol]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{byProtocol: make(map[partner.Protocol]Adapter)}
}

// Register binds an adapter to a protocol
func (r *Registry) Register(proto partner.Protocol, a Adapter) {
	r.byProtocol[proto] = a
}

// ForPartner resolves the adapter serving a partner's protocol
func (r *Registry) ForPartner(p partner.Partner) (Adapter, error) {
	a, ok := r.byProtocol[p.Protocol]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for protocol %s (partner %s)", p.Protocol, p.ID)
	}
	return a, nil
}
