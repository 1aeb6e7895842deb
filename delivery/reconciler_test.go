package delivery_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunecast/distributor/adapter"
	"github.com/tunecast/distributor/adapter/signature"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/delivery/memory"
	"github.com/tunecast/distributor/partner"
)

func signedSecret() string {
	return signature.SecretPrefix + base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func signedWebhook(t *testing.T, secret, eventID, externalRef, status string) (http.Header, []byte) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"delivery_id":%q,"status":%q,"message":"ok"}`, externalRef, status))
	ts := time.Now()

	parsed, err := signature.ParseSecret(secret)
	require.NoError(t, err)
	sig, err := signature.Sign(parsed, eventID, ts, payload)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Webhook-Id", eventID)
	headers.Set("Webhook-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	headers.Set("Webhook-Signature", sig)
	return headers, payload
}

type reconcilerFixture struct {
	repo       *memory.Repository
	reconciler *delivery.Reconciler
	partner    partner.Partner
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	p := testPartner()
	p.SigningSecret = signedSecret()

	partners := partner.NewRegistry()
	require.NoError(t, partners.Put(p))

	adapters := adapter.NewRegistry()
	adapters.Register(partner.JSONAPI, adapter.NewJSONAPIAdapter(nil))

	repo := memory.NewRepository()
	return &reconcilerFixture{
		repo:       repo,
		reconciler: delivery.NewReconciler(repo, adapters, partners, zerolog.Nop()),
		partner:    p,
	}
}

func (f *reconcilerFixture) seedSubmitted(t *testing.T, externalRef string) delivery.Attempt {
	t.Helper()
	ctx := context.Background()

	a := pendingAttempt()
	a.Partner = f.partner
	a.PartnerID = f.partner.ID
	created, _, err := f.repo.CreateAttempt(ctx, a)
	require.NoError(t, err)

	next, err := delivery.Apply(created, delivery.Event{
		Kind: delivery.SubmitSucceeded, ExternalRef: externalRef, At: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateAttempt(ctx, next, delivery.Pending))
	return next
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmation transitions the attempt", func(t *testing.T) {
		f := newReconcilerFixture(t)
		a := f.seedSubmitted(t, "sp-900")
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-1", "sp-900", "delivered")

		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)

		require.NoError(t, err)
		assert.Equal(t, delivery.Applied, outcome)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Confirmed, got.State)
		assert.Len(t, f.repo.Events(), 1)
	})

	t.Run("duplicate delivery collapses into a no-op", func(t *testing.T) {
		f := newReconcilerFixture(t)
		counts := &countingInstrumentation{}
		f.reconciler.Metrics = counts
		a := f.seedSubmitted(t, "sp-900")
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-1", "sp-900", "delivered")

		first, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.NoError(t, err)
		require.Equal(t, delivery.Applied, first)

		second, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.NoError(t, err)
		assert.Equal(t, delivery.Duplicate, second)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Confirmed, got.State)
		assert.Len(t, f.repo.Events(), 1, "only the first delivery is recorded")
		assert.Equal(t, 1, counts.Webhooks(delivery.Applied))
		assert.Equal(t, 1, counts.Webhooks(delivery.Duplicate))
	})

	t.Run("retryable failure schedules a retry", func(t *testing.T) {
		f := newReconcilerFixture(t)
		a := f.seedSubmitted(t, "sp-900")
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-2", "sp-900", "failed")

		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)

		require.NoError(t, err)
		assert.Equal(t, delivery.Applied, outcome)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.RetryScheduled, got.State)

		due, err := f.repo.DueRetries(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Contains(t, due, a.ID)
	})

	t.Run("rejection closes the attempt", func(t *testing.T) {
		f := newReconcilerFixture(t)
		a := f.seedSubmitted(t, "sp-900")
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-3", "sp-900", "rejected")

		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)

		require.NoError(t, err)
		assert.Equal(t, delivery.Applied, outcome)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Rejected, got.State)
	})

	t.Run("late event against a terminal attempt is discarded", func(t *testing.T) {
		f := newReconcilerFixture(t)
		a := f.seedSubmitted(t, "sp-900")

		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-4", "sp-900", "rejected")
		_, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.NoError(t, err)

		lateHeaders, latePayload := signedWebhook(t, f.partner.SigningSecret, "evt-5", "sp-900", "delivered")
		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, lateHeaders, latePayload)

		require.NoError(t, err)
		assert.Equal(t, delivery.Discarded, outcome)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Rejected, got.State)
	})

	t.Run("tampered payload never mutates state", func(t *testing.T) {
		f := newReconcilerFixture(t)
		a := f.seedSubmitted(t, "sp-900")
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-6", "sp-900", "delivered")
		payload[len(payload)-2] = 'X'

		var recErr *delivery.ReconciliationError
		_, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)

		require.ErrorAs(t, err, &recErr)
		assert.Equal(t, f.partner.ID, recErr.PartnerID)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Submitted, got.State)
		assert.Empty(t, f.repo.Events())
	})

	t.Run("unknown partner is refused", func(t *testing.T) {
		f := newReconcilerFixture(t)
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-7", "sp-900", "delivered")

		var recErr *delivery.ReconciliationError
		_, err := f.reconciler.Reconcile(ctx, "nobody", headers, payload)

		require.ErrorAs(t, err, &recErr)
		assert.Equal(t, "unknown partner", recErr.Reason)
	})

	t.Run("event racing its submit response is retried and applied", func(t *testing.T) {
		f := newReconcilerFixture(t)
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-8", "sp-901", "delivered")

		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.Error(t, err)
		assert.Equal(t, delivery.Unmatched, outcome)

		// The submit response lands while the deferred retry waits
		a := f.seedSubmitted(t, "sp-901")
		f.reconciler.Drain()

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Confirmed, got.State)
	})

	t.Run("redelivery applies after a store failure", func(t *testing.T) {
		f := newReconcilerFixture(t)
		flaky := &flakyRepository{Repository: f.repo, failUpdates: 1}
		f.reconciler.Repo = flaky

		a := f.seedSubmitted(t, "sp-902")
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-9", "sp-902", "delivered")

		_, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.Error(t, err)

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, delivery.Submitted, got.State)

		// The partner redelivers the identical event; the failed pass
		// must not have consumed its dedupe claim
		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.NoError(t, err)
		assert.Equal(t, delivery.Applied, outcome)

		got, err = f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Confirmed, got.State)
	})

	t.Run("event unmatched after the deferred retry leaves an audit record", func(t *testing.T) {
		f := newReconcilerFixture(t)
		headers, payload := signedWebhook(t, f.partner.SigningSecret, "evt-10", "sp-903", "delivered")

		outcome, err := f.reconciler.Reconcile(ctx, f.partner.ID, headers, payload)
		require.Error(t, err)
		require.Equal(t, delivery.Unmatched, outcome)
		f.reconciler.Drain()

		events := f.repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "sp-903", events[0].ExternalRef)
		assert.Equal(t, "evt-10", events[0].EventID)
	})
}

/* flakyRepository fails a scripted number of conditional updates to
 * exercise the paths where a webhook transition cannot be persisted.
 */
type flakyRepository struct {
	*memory.Repository
	failUpdates int
}

func (f *flakyRepository) UpdateAttempt(ctx context.Context, a delivery.Attempt, from delivery.State) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("connection reset by peer")
	}
	return f.Repository.UpdateAttempt(ctx, a, from)
}
