package partner

import "fmt"

/* Protocol selects which adapter translates deliverables into a
 * partner's request shape. New partner integrations register a new
 * variant rather than branching inside shared delivery code.
 */
type Protocol int

const (
	JSONAPI Protocol = iota + 1
	Feed
)

// String returns the string representation of the protocol
func (p Protocol) String() string {
	switch p {
	case JSONAPI:
		return "json_api"
	case Feed:
		return "feed"
	default:
		return "unknown"
	}
}

// NewProtocol creates a Protocol from a string
func NewProtocol(s string) Protocol {
	switch s {
	case "json_api":
		return JSONAPI
	case "feed":
		return Feed
	default:
		return Protocol(0)
	}
}

// Validate checks if the protocol is a known variant
func (p Protocol) Validate() error {
	if p != JSONAPI && p != Feed {
		return fmt.Errorf("invalid protocol: %d", p)
	}
	return nil
}
