package delivery

import "fmt"

/* State represents the current position of a delivery attempt in its
 * lifecycle: Pending -> Submitted -> Confirmed/Rejected, with
 * RetryScheduled between failed cycles and Failed after exhaustion.
 * Confirmed, Rejected and Failed are terminal and absorbing.
 */
type State int

const (
	Pending State = iota + 1
	Submitted
	RetryScheduled
	Confirmed
	Rejected
	Failed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case RetryScheduled:
		return "retry_scheduled"
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewState creates a State from a string
func NewState(str string) State {
	switch str {
	case "pending":
		return Pending
	case "submitted":
		return Submitted
	case "retry_scheduled":
		return RetryScheduled
	case "confirmed":
		return Confirmed
	case "rejected":
		return Rejected
	case "failed":
		return Failed
	default:
		return State(0)
	}
}

// Validate checks if the state is valid
func (s State) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid state: %d", s)
	}
	return nil
}

// IsTerminal returns true for absorbing states that accept no further
// transitions
func (s State) IsTerminal() bool {
	return s == Confirmed || s == Rejected || s == Failed
}
