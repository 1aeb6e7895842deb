package release

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

/* Deliverable is the canonical, immutable representation of a release
 * that passed intake validation. Every delivery attempt derived from a
 * distribution request references the same Deliverable value; the
 * content hash is the idempotency anchor for the whole fan-out.
 */
type Deliverable struct {
	ReleaseID   string
	Title       string
	Artist      string
	Label       string
	UPC         string
	ReleaseDate time.Time
	Tracks      []TrackDescriptor
	Metadata    map[string]string

	// ContentHash is a canonical SHA-256 over all fields above,
	// stable regardless of input field ordering
	ContentHash string
}

// TrackDescriptor is the canonical form of one track, ordered by position
type TrackDescriptor struct {
	Title    string
	Artist   string
	Position int
	ISRC     string
	Duration time.Duration
}

/* contentHash serializes the deliverable fields in a fixed order and
 * hashes the result. Tracks are walked in position order and metadata
 * keys are sorted, so two logically identical releases always produce
 * the same hash.
 */
func contentHash(d Deliverable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "release:%s\n", d.ReleaseID)
	fmt.Fprintf(&b, "title:%s\n", d.Title)
	fmt.Fprintf(&b, "artist:%s\n", d.Artist)
	fmt.Fprintf(&b, "label:%s\n", d.Label)
	fmt.Fprintf(&b, "upc:%s\n", d.UPC)
	if !d.ReleaseDate.IsZero() {
		fmt.Fprintf(&b, "date:%s\n", d.ReleaseDate.UTC().Format("2006-01-02"))
	}
	for _, t := range d.Tracks {
		fmt.Fprintf(&b, "track:%d:%s:%s:%s:%d\n", t.Position, t.Title, t.Artist, t.ISRC, t.Duration.Milliseconds())
	}
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "meta:%s:%s\n", k, d.Metadata[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
