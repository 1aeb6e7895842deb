package adapter_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunecast/distributor/adapter"
	"github.com/tunecast/distributor/adapter/signature"
	"github.com/tunecast/distributor/partner"
)

func feedPartner(endpoint string) partner.Partner {
	p := jsonPartner(endpoint)
	p.ID = "wavecrest"
	p.Protocol = partner.Feed
	p.APIKey = "feed-key-456"
	return p
}

func TestFeedSubmit(t *testing.T) {
	ctx := context.Background()
	d := jsonDeliverable()

	t.Run("receipt id becomes the external ref", func(t *testing.T) {
		var gotKey, gotContentType string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("X-Api-Key")
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.Write([]byte(`<receipt id="wc-331" status="accepted"/>`))
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		result, err := a.Submit(ctx, d, feedPartner(srv.URL))

		require.NoError(t, err)
		assert.Equal(t, "wc-331", result.ExternalRef)
		assert.Equal(t, "feed-key-456", gotKey)
		assert.Equal(t, "application/xml", gotContentType)
		assert.Contains(t, string(gotBody), `release-id="rel-001"`)
		assert.Contains(t, string(gotBody), `checksum="h1"`)
		assert.Contains(t, string(gotBody), "<tracklist>")
	})

	t.Run("refused receipt is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<receipt id="wc-332" status="refused"/>`))
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		_, err := a.Submit(ctx, d, feedPartner(srv.URL))

		assert.Equal(t, adapter.Permanent, classOf(t, err))
	})

	t.Run("unparseable receipt is ambiguous", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`gateway says hi`))
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		_, err := a.Submit(ctx, d, feedPartner(srv.URL))

		assert.Equal(t, adapter.Ambiguous, classOf(t, err))
	})

	t.Run("server errors are transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		_, err := a.Submit(ctx, d, feedPartner(srv.URL))

		assert.Equal(t, adapter.Transient, classOf(t, err))
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		_, err := a.Submit(ctx, d, feedPartner(srv.URL))

		assert.Equal(t, adapter.Permanent, classOf(t, err))
	})
}

func signedFeedCallback(t *testing.T, p partner.Partner, eventID string, ts time.Time, payload []byte) http.Header {
	t.Helper()
	secret, err := signature.ParseSecret(p.SigningSecret)
	require.NoError(t, err)
	sig, err := signature.Sign(secret, eventID, ts, payload)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-Feed-Event", eventID)
	headers.Set("X-Feed-Timestamp", ts.Format(time.RFC3339))
	headers.Set("X-Feed-Signature", sig)
	return headers
}

func TestFeedTakedown(t *testing.T) {
	ctx := context.Background()

	t.Run("notice carries the ref to the takedowns endpoint", func(t *testing.T) {
		var gotPath, gotKey string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("X-Api-Key")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		err := a.Takedown(ctx, "wc-331", feedPartner(srv.URL))

		require.NoError(t, err)
		assert.Equal(t, "/takedowns", gotPath)
		assert.Equal(t, "feed-key-456", gotKey)
		assert.Contains(t, string(gotBody), `ref="wc-331"`)
	})

	t.Run("unknown ref counts as removed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		require.NoError(t, a.Takedown(ctx, "wc-400", feedPartner(srv.URL)))
	})

	t.Run("server errors are transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		a := adapter.NewFeedAdapter(srv.Client())
		err := a.Takedown(ctx, "wc-401", feedPartner(srv.URL))

		assert.Equal(t, adapter.Transient, classOf(t, err))
	})
}

func TestFeedParseWebhook(t *testing.T) {
	p := feedPartner("https://feeds.wavecrest.example/ingest")
	a := adapter.NewFeedAdapter(nil)

	t.Run("complete callback maps to success", func(t *testing.T) {
		payload := []byte(`<delivery-result ref="wc-331" outcome="complete">in catalog</delivery-result>`)
		headers := signedFeedCallback(t, p, "fev-1", time.Now(), payload)

		ev, err := a.ParseWebhook(p, headers, payload)

		require.NoError(t, err)
		assert.Equal(t, "wc-331", ev.ExternalRef)
		assert.Equal(t, adapter.OutcomeSuccess, ev.Outcome)
		assert.Equal(t, "in catalog", ev.Message)
	})

	t.Run("outcome mapping", func(t *testing.T) {
		cases := map[string]adapter.Outcome{
			"complete": adapter.OutcomeSuccess,
			"retry":    adapter.OutcomeRetryableFailure,
			"refused":  adapter.OutcomePermanentFailure,
		}
		for outcome, want := range cases {
			payload := []byte(`<delivery-result ref="wc-331" outcome="` + outcome + `"/>`)
			headers := signedFeedCallback(t, p, "fev-"+outcome, time.Now(), payload)

			ev, err := a.ParseWebhook(p, headers, payload)

			require.NoError(t, err, outcome)
			assert.Equal(t, want, ev.Outcome, outcome)
		}
	})

	t.Run("missing ref fails closed", func(t *testing.T) {
		payload := []byte(`<delivery-result outcome="complete"/>`)
		headers := signedFeedCallback(t, p, "fev-2", time.Now(), payload)

		_, err := a.ParseWebhook(p, headers, payload)

		require.ErrorContains(t, err, "ref")
	})

	t.Run("wrong secret fails verification", func(t *testing.T) {
		payload := []byte(`<delivery-result ref="wc-331" outcome="complete"/>`)
		other := p
		other.SigningSecret = signature.SecretPrefix + "MDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDA="
		headers := signedFeedCallback(t, other, "fev-3", time.Now(), payload)

		_, err := a.ParseWebhook(p, headers, payload)

		require.ErrorContains(t, err, "signature")
	})
}
