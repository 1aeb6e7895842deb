package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tunecast/distributor/partner"
)

/* Attempt tracks one (deliverable, partner) pairing's journey. At most
 * one attempt exists per idempotency key; retries update the existing
 * record. Terminal attempts are retained for audit, never deleted.
 *
 * The Partner field is the configuration snapshot captured at dispatch
 * time. Registry reloads never touch it, so a credential rotation
 * cannot corrupt an attempt already in progress.
 */
type Attempt struct {
	ID             string
	ReleaseID      string
	ContentHash    string
	PartnerID      string
	Partner        partner.Partner
	IdempotencyKey string
	State          State

	// AttemptCount is how many submit cycles have run; AmbiguousCount
	// separately tracks cycles whose outcome could not be classified
	AttemptCount   int
	AmbiguousCount int

	// ExternalRef is the partner's own tracking id, known after a
	// successful synchronous submit
	ExternalRef string

	LastError     string
	NextRetryAt   time.Time
	LastAttemptAt time.Time

	// SweepCount is incremented each time the recovery sweep re-drives
	// this attempt without it making progress
	SweepCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdempotencyKey derives the deterministic key guarding the
// one-attempt-per-(content hash, partner) invariant
func IdempotencyKey(contentHash, partnerID string) string {
	sum := sha256.Sum256([]byte(contentHash + ":" + partnerID))
	return hex.EncodeToString(sum[:])
}

// RetryExhausted reports whether the attempt has consumed its retry
// budget, accounting for the lower ambiguous-outcome ceiling
func (a Attempt) RetryExhausted() bool {
	if a.AttemptCount >= a.Partner.Retry.MaxRetries {
		return true
	}
	return a.AmbiguousCount >= a.Partner.Retry.AmbiguousMaxRetries && a.AmbiguousCount > 0
}
