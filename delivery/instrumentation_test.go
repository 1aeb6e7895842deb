package delivery_test

import (
	"sync"

	"github.com/tunecast/distributor/delivery"
)

// countingInstrumentation records engine counter signals for assertions
type countingInstrumentation struct {
	mu          sync.Mutex
	webhooks    map[delivery.ReconcileOutcome]int
	escalations int
}

func (c *countingInstrumentation) WebhookReconciled(outcome delivery.ReconcileOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.webhooks == nil {
		c.webhooks = make(map[delivery.ReconcileOutcome]int)
	}
	c.webhooks[outcome]++
}

func (c *countingInstrumentation) SweepEscalated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalations++
}

func (c *countingInstrumentation) Webhooks(outcome delivery.ReconcileOutcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webhooks[outcome]
}

func (c *countingInstrumentation) Escalations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.escalations
}
