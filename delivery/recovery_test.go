package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunecast/distributor/adapter"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/delivery/memory"
)

type sweepFixture struct {
	repo    *memory.Repository
	sweeper *delivery.Sweeper
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()

	repo := memory.NewRepository()
	pool := delivery.NewPool(repo, adapter.NewRegistry(), zerolog.Nop(), 1)
	return &sweepFixture{
		repo:    repo,
		sweeper: delivery.NewSweeper(repo, pool, zerolog.Nop(), time.Minute, 3),
	}
}

func (f *sweepFixture) seedStale(t *testing.T, state delivery.State, mutate func(*delivery.Attempt)) delivery.Attempt {
	t.Helper()
	ctx := context.Background()

	a := pendingAttempt()
	a.UpdatedAt = time.Now().Add(-time.Hour)
	created, _, err := f.repo.CreateAttempt(ctx, a)
	require.NoError(t, err)

	if state != delivery.Pending || mutate != nil {
		next := created
		next.State = state
		if mutate != nil {
			mutate(&next)
		}
		require.NoError(t, f.repo.UpdateAttempt(ctx, next, delivery.Pending))
		return next
	}
	return created
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("stuck pending attempt is re-enqueued", func(t *testing.T) {
		f := newSweepFixture(t)
		a := f.seedStale(t, delivery.Pending, nil)

		require.NoError(t, f.sweeper.Sweep(ctx))

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Pending, got.State)
		assert.Equal(t, 1, got.SweepCount)

		queued, err := f.repo.DequeueSubmit(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, queued)
	})

	t.Run("overdue retry schedule is promoted", func(t *testing.T) {
		f := newSweepFixture(t)
		a := f.seedStale(t, delivery.RetryScheduled, func(a *delivery.Attempt) {
			a.NextRetryAt = time.Now().Add(-time.Minute)
			a.UpdatedAt = time.Now().Add(-time.Hour)
		})

		require.NoError(t, f.sweeper.Sweep(ctx))

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Pending, got.State)
		assert.Equal(t, 1, got.SweepCount)

		queued, err := f.repo.DequeueSubmit(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, queued)
	})

	t.Run("submitted attempts are surfaced, never re-submitted", func(t *testing.T) {
		f := newSweepFixture(t)
		a := f.seedStale(t, delivery.Submitted, func(a *delivery.Attempt) {
			a.ExternalRef = "sp-1"
			a.UpdatedAt = time.Now().Add(-time.Hour)
		})

		require.NoError(t, f.sweeper.Sweep(ctx))

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Submitted, got.State)
		assert.Zero(t, got.SweepCount)

		queued, err := f.repo.DequeueSubmit(ctx)
		require.NoError(t, err)
		assert.Empty(t, queued)
	})

	t.Run("attempt past the cycle ceiling is escalated, not re-driven", func(t *testing.T) {
		f := newSweepFixture(t)
		counts := &countingInstrumentation{}
		f.sweeper.Metrics = counts
		a := f.seedStale(t, delivery.Pending, func(a *delivery.Attempt) {
			a.SweepCount = 3
			a.UpdatedAt = time.Now().Add(-time.Hour)
		})

		require.NoError(t, f.sweeper.Sweep(ctx))

		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.SweepCount)
		assert.Equal(t, 1, counts.Escalations())

		queued, err := f.repo.DequeueSubmit(ctx)
		require.NoError(t, err)
		assert.Empty(t, queued)
	})

	t.Run("fresh attempts are left alone", func(t *testing.T) {
		f := newSweepFixture(t)
		ctx := context.Background()

		a := pendingAttempt()
		a.UpdatedAt = time.Now()
		_, _, err := f.repo.CreateAttempt(ctx, a)
		require.NoError(t, err)

		require.NoError(t, f.sweeper.Sweep(ctx))

		queued, err := f.repo.DequeueSubmit(ctx)
		require.NoError(t, err)
		assert.Empty(t, queued)
	})
}

func TestSweepRecordsCyclesAcrossRuns(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)
	a := f.seedStale(t, delivery.Pending, nil)

	for i := 1; i <= 3; i++ {
		require.NoError(t, f.sweeper.Sweep(ctx))
		got, err := f.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.SweepCount)

		// drain and re-age as if the queued work kept going nowhere
		_, err = f.repo.DequeueSubmit(ctx)
		require.NoError(t, err)
		stale := got
		stale.UpdatedAt = time.Now().Add(-time.Hour)
		require.NoError(t, f.repo.UpdateAttempt(ctx, stale, delivery.Pending))
	}

	// Fourth pass hits the ceiling
	require.NoError(t, f.sweeper.Sweep(ctx))
	queued, err := f.repo.DequeueSubmit(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)
}
