package delivery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tunecast/distributor/delivery"
	"github.com/tunecast/distributor/partner"
)

func TestNextDelay(t *testing.T) {
	policy := partner.RetryPolicy{
		BaseInterval: time.Second,
		Multiplier:   2.0,
		MaxInterval:  time.Minute,
		MaxRetries:   10,
	}

	t.Run("grows exponentially within jitter bounds", func(t *testing.T) {
		expected := []time.Duration{
			time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
		}
		for n, want := range expected {
			d := delivery.NextDelay(policy, n+1)
			lo := time.Duration(float64(want) * 0.8)
			hi := time.Duration(float64(want) * 1.2)
			assert.GreaterOrEqual(t, d, lo, "retry %d", n+1)
			assert.LessOrEqual(t, d, hi, "retry %d", n+1)
		}
	})

	t.Run("caps at the partner maximum", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			d := delivery.NextDelay(policy, 20)
			assert.LessOrEqual(t, d, time.Duration(float64(time.Minute)*1.2))
			assert.GreaterOrEqual(t, d, time.Duration(float64(time.Minute)*0.8))
		}
	})

	t.Run("treats retry numbers below one as the first", func(t *testing.T) {
		d := delivery.NextDelay(policy, 0)
		assert.LessOrEqual(t, d, time.Duration(float64(time.Second)*1.2))
	})
}
