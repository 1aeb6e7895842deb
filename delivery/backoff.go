package delivery

import (
	"math"
	"math/rand"
	"time"

	"github.com/tunecast/distributor/partner"
)

/* Backoff is exponential with full-percentage jitter: the nth retry
 * waits base * multiplier^(n-1), capped at the partner's maximum
 * interval, then widened by up to ±20% so a partner outage does not
 * produce synchronized retry herds.
 */

const jitterFraction = 0.2

// NextDelay computes the wait before retry number n (1-based) under
// the given per-partner policy
func NextDelay(policy partner.RetryPolicy, retryNumber int) time.Duration {
	if retryNumber < 1 {
		retryNumber = 1
	}
	base := float64(policy.BaseInterval)
	delay := base * math.Pow(policy.Multiplier, float64(retryNumber-1))
	if max := float64(policy.MaxInterval); delay > max {
		delay = max
	}
	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(delay * jitter)
}
