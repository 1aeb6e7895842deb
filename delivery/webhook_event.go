package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

/* WebhookEvent is the audit record of one inbound partner
 * notification. Immutable once appended; consumption is tracked
 * separately through the dedupe claim so a redelivered event is a
 * no-op rather than a double transition.
 */
type WebhookEvent struct {
	ID          string
	PartnerID   string
	EventID     string
	ExternalRef string
	Outcome     string
	Raw         []byte
	Verified    bool
	ReceivedAt  time.Time
}

/* DedupeKey identifies one logical partner event. Partners that send
 * their own event id get (partner id, event id); partners that do not
 * are keyed by a hash of the raw payload, which still collapses exact
 * redeliveries.
 */
func (e WebhookEvent) DedupeKey() string {
	if e.EventID != "" {
		return e.PartnerID + ":" + e.EventID
	}
	sum := sha256.Sum256(e.Raw)
	return e.PartnerID + ":payload:" + hex.EncodeToString(sum[:])
}
