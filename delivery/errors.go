package delivery

import (
	"errors"
	"fmt"
)

/* Error taxonomy for the orchestration engine. Adapter-side partner
 * errors (transient/permanent/ambiguous) live in the adapter package;
 * everything that can go wrong while moving an attempt through its
 * lifecycle is here.
 */

var (
	// ErrTerminalState rejects any event against a Confirmed, Rejected
	// or Failed attempt; callers log and discard
	ErrTerminalState = errors.New("attempt is in a terminal state")

	// ErrInvalidTransition rejects an event the current state has no
	// guard for
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict is returned by conditional updates when another
	// writer transitioned the attempt first; the losing write is a no-op
	ErrConflict = errors.New("attempt state changed concurrently")

	// ErrAttemptNotFound means no attempt matches the given key
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrExternalRefMismatch rejects a webhook whose tracking id does
	// not match the attempt it was routed to
	ErrExternalRefMismatch = errors.New("external reference mismatch")
)

// ReconciliationError wraps an authenticity failure or unmappable
// webhook; no state was mutated
type ReconciliationError struct {
	PartnerID string
	Reason    string
	Err       error
}

func (e *ReconciliationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconciling webhook from %s: %s: %v", e.PartnerID, e.Reason, e.Err)
	}
	return fmt.Sprintf("reconciling webhook from %s: %s", e.PartnerID, e.Reason)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// RecoveryError reports an attempt the sweep could not re-drive after
// a bounded number of cycles; escalated for manual review
type RecoveryError struct {
	AttemptID string
	Cycles    int
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("attempt %s stuck after %d sweep cycles, escalating for manual review", e.AttemptID, e.Cycles)
}
