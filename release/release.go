package release

import "time"

/* Release is the aggregate handed to the intake validator by the
 * presentation layer. It carries only the fields the orchestration
 * engine needs; label-side metadata rules live outside this system.
 */
type Release struct {
	ID          string
	Title       string
	Artist      string
	Label       string
	UPC         string
	ReleaseDate time.Time
	Tracks      []Track
	Metadata    map[string]string
}

// Track is one entry of a release's ordered tracklist
type Track struct {
	Title    string
	Artist   string
	Position int
	ISRC     string
	Duration time.Duration
}
