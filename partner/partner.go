package partner

import (
	"fmt"
	"time"
)

/* Partner is the configuration entity for one downstream DSP.
 * Values handed out by the registry are snapshots: an attempt captured
 * a Partner at dispatch time and keeps it for its whole lifecycle, so a
 * mid-flight credential rotation never corrupts in-flight work.
 */
type Partner struct {
	ID             string
	Name           string
	Protocol       Protocol
	Endpoint       string
	APIKey         string
	SigningSecret  string // shared secret for webhook authenticity (whsec_ prefix)
	MaxConcurrency int    // simultaneous submits allowed against this partner
	Active         bool
	Retry          RetryPolicy
}

// RetryPolicy is the per-partner backoff configuration
type RetryPolicy struct {
	BaseInterval time.Duration
	Multiplier   float64
	MaxInterval  time.Duration
	MaxRetries   int
	// AmbiguousMaxRetries caps retries when the partner's responses
	// cannot be classified, so a persistently broken partner does not
	// consume the full transient budget
	AmbiguousMaxRetries int
}

// Validate checks the partner configuration is usable
func (p *Partner) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("partner id cannot be empty")
	}
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty for partner %s", p.ID)
	}
	if err := p.Protocol.Validate(); err != nil {
		return fmt.Errorf("invalid protocol for partner %s: %w", p.ID, err)
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1 for partner %s", p.ID)
	}
	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative for partner %s", p.ID)
	}
	if p.Retry.AmbiguousMaxRetries > p.Retry.MaxRetries {
		return fmt.Errorf("ambiguous_max_retries cannot exceed max_retries for partner %s", p.ID)
	}
	return nil
}
