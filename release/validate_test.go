package release_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunecast/distributor/release"
)

func validRelease() release.Release {
	return release.Release{
		ID:     "rel-001",
		Title:  "Night Drive",
		Artist: "The Marginals",
		Label:  "Tunecast Records",
		UPC:    "190000000001",
		Tracks: []release.Track{
			{Title: "Opening", Artist: "The Marginals", Position: 1, ISRC: "USTC12500001", Duration: 3 * time.Minute},
			{Title: "Closing", Artist: "The Marginals", Position: 2, ISRC: "USTC12500002", Duration: 4 * time.Minute},
		},
	}
}

func TestValidateSuccess(t *testing.T) {
	d, err := release.Validate(validRelease())

	require.NoError(t, err)
	assert.Equal(t, "rel-001", d.ReleaseID)
	assert.Len(t, d.Tracks, 2)
	assert.NotEmpty(t, d.ContentHash)
}

func TestValidateCollectsAllViolations(t *testing.T) {
	rel := release.Release{
		Tracks: []release.Track{{Position: 0}},
	}

	_, err := release.Validate(rel)

	require.Error(t, err)
	var verr *release.ValidationError
	require.True(t, errors.As(err, &verr))
	// release id, title, artist, track title, track artist, track position
	assert.Len(t, verr.Violations, 6)
}

func TestValidateDuplicateTrackPositions(t *testing.T) {
	rel := validRelease()
	rel.Tracks[1].Position = 1

	_, err := release.Validate(rel)

	require.Error(t, err)
	var verr *release.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Violations[0], "duplicate position")
}

func TestContentHashStability(t *testing.T) {
	t.Run("identical releases hash identically", func(t *testing.T) {
		d1, err := release.Validate(validRelease())
		require.NoError(t, err)
		d2, err := release.Validate(validRelease())
		require.NoError(t, err)

		assert.Equal(t, d1.ContentHash, d2.ContentHash)
	})

	t.Run("stable under track input ordering", func(t *testing.T) {
		rel := validRelease()
		shuffled := validRelease()
		shuffled.Tracks[0], shuffled.Tracks[1] = shuffled.Tracks[1], shuffled.Tracks[0]

		d1, err := release.Validate(rel)
		require.NoError(t, err)
		d2, err := release.Validate(shuffled)
		require.NoError(t, err)

		assert.Equal(t, d1.ContentHash, d2.ContentHash)
	})

	t.Run("content change alters hash", func(t *testing.T) {
		changed := validRelease()
		changed.Tracks[0].Title = "Opening (Remaster)"

		d1, err := release.Validate(validRelease())
		require.NoError(t, err)
		d2, err := release.Validate(changed)
		require.NoError(t, err)

		assert.NotEqual(t, d1.ContentHash, d2.ContentHash)
	})
}
