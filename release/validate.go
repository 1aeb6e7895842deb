package release

import (
	"fmt"
	"sort"
	"strings"
)

/* Intake validation is a pure function over the release aggregate.
 * It reports every violated constraint at once, not just the first,
 * so callers can surface a complete problem list to the user.
 */

// ValidationError carries all intake violations for a release
type ValidationError struct {
	ReleaseID  string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("release %q failed intake validation: %s",
		e.ReleaseID, strings.Join(e.Violations, "; "))
}

// Validate checks structural completeness of a release aggregate and,
// on success, emits its canonical immutable Deliverable representation.
func Validate(rel Release) (Deliverable, error) {
	var violations []string

	if rel.ID == "" {
		violations = append(violations, "release id is required")
	}
	if rel.Title == "" {
		violations = append(violations, "title is required")
	}
	if rel.Artist == "" {
		violations = append(violations, "artist is required")
	}
	if len(rel.Tracks) == 0 {
		violations = append(violations, "at least one track is required")
	}

	seen := make(map[int]bool, len(rel.Tracks))
	for i, t := range rel.Tracks {
		if t.Title == "" {
			violations = append(violations, fmt.Sprintf("track %d: title is required", i+1))
		}
		if t.Artist == "" {
			violations = append(violations, fmt.Sprintf("track %d: artist is required", i+1))
		}
		if t.Position < 1 {
			violations = append(violations, fmt.Sprintf("track %d: position must be >= 1", i+1))
		} else if seen[t.Position] {
			violations = append(violations, fmt.Sprintf("track %d: duplicate position %d", i+1, t.Position))
		} else {
			seen[t.Position] = true
		}
	}

	if len(violations) > 0 {
		return Deliverable{}, &ValidationError{ReleaseID: rel.ID, Violations: violations}
	}

	tracks := make([]TrackDescriptor, len(rel.Tracks))
	for i, t := range rel.Tracks {
		tracks[i] = TrackDescriptor{
			Title:    t.Title,
			Artist:   t.Artist,
			Position: t.Position,
			ISRC:     t.ISRC,
			Duration: t.Duration,
		}
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Position < tracks[j].Position })

	var meta map[string]string
	if len(rel.Metadata) > 0 {
		meta = make(map[string]string, len(rel.Metadata))
		for k, v := range rel.Metadata {
			meta[k] = v
		}
	}

	d := Deliverable{
		ReleaseID:   rel.ID,
		Title:       rel.Title,
		Artist:      rel.Artist,
		Label:       rel.Label,
		UPC:         rel.UPC,
		ReleaseDate: rel.ReleaseDate,
		Tracks:      tracks,
		Metadata:    meta,
	}
	d.ContentHash = contentHash(d)
	return d, nil
}
