package partner_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunecast/distributor/partner"
)

const partnersYAML = `
partners:
  - id: spintide
    name: Spintide Music
    protocol: json_api
    endpoint: https://api.spintide.example/v2/releases
    api_key: sk-test
    signing_secret: whsec_c3BpbnRpZGUtc2lnbmluZy1zZWNyZXQtMDE=
    max_concurrency: 4
    max_retries: 5
    base_interval_ms: 500
  - id: wavecrest
    name: Wavecrest
    protocol: feed
    endpoint: https://feeds.wavecrest.example/ingest
    active: false
`

func writePartnersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "partners.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegistryLoad(t *testing.T) {
	reg := partner.NewRegistry()
	require.NoError(t, reg.Load(writePartnersFile(t, partnersYAML)))

	t.Run("get known partner", func(t *testing.T) {
		p, err := reg.Get("spintide")

		require.NoError(t, err)
		assert.Equal(t, partner.JSONAPI, p.Protocol)
		assert.Equal(t, 4, p.MaxConcurrency)
		assert.Equal(t, 5, p.Retry.MaxRetries)
		assert.Equal(t, 500*time.Millisecond, p.Retry.BaseInterval)
	})

	t.Run("unknown partner", func(t *testing.T) {
		_, err := reg.Get("nonesuch")

		require.Error(t, err)
		var notFound *partner.ErrNotFound
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "nonesuch", notFound.ID)
	})

	t.Run("defaults applied", func(t *testing.T) {
		p, err := reg.Get("wavecrest")

		require.NoError(t, err)
		assert.Equal(t, 1, p.MaxConcurrency)
		assert.Equal(t, 3, p.Retry.MaxRetries)
		assert.Equal(t, 2.0, p.Retry.Multiplier)
		assert.False(t, p.Active)
	})
}

func TestRegistryResolve(t *testing.T) {
	reg := partner.NewRegistry()
	require.NoError(t, reg.Load(writePartnersFile(t, partnersYAML)))

	t.Run("empty selection resolves active partners", func(t *testing.T) {
		selected, err := reg.Resolve(nil)

		require.NoError(t, err)
		require.Len(t, selected, 1)
		assert.Equal(t, "spintide", selected[0].ID)
	})

	t.Run("explicit selection includes inactive", func(t *testing.T) {
		selected, err := reg.Resolve([]string{"spintide", "wavecrest"})

		require.NoError(t, err)
		assert.Len(t, selected, 2)
	})

	t.Run("unknown id fails the resolution", func(t *testing.T) {
		_, err := reg.Resolve([]string{"spintide", "nonesuch"})

		require.Error(t, err)
	})
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	reg := partner.NewRegistry()
	require.NoError(t, reg.Load(writePartnersFile(t, partnersYAML)))

	// A partner captured before a reconfiguration keeps its old values
	before, err := reg.Get("spintide")
	require.NoError(t, err)

	rotated := before
	rotated.APIKey = "sk-rotated"
	require.NoError(t, reg.Put(rotated))

	assert.Equal(t, "sk-test", before.APIKey)

	after, err := reg.Get("spintide")
	require.NoError(t, err)
	assert.Equal(t, "sk-rotated", after.APIKey)
}

func TestRegistryLoadRejectsInvalidPartner(t *testing.T) {
	reg := partner.NewRegistry()

	err := reg.Load(writePartnersFile(t, "partners:\n  - id: broken\n    protocol: json_api\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint cannot be empty")
}
