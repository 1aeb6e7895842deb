package delivery

// Instrumentation receives engine counter signals. Implementations
// must be safe for concurrent use; the engine never blocks on them.
type Instrumentation interface {
	// WebhookReconciled records the outcome of one inbound webhook
	WebhookReconciled(outcome ReconcileOutcome)
	// SweepEscalated records an attempt surfaced past its sweep budget
	SweepEscalated()
}

type nopInstrumentation struct{}

func (nopInstrumentation) WebhookReconciled(ReconcileOutcome) {}
func (nopInstrumentation) SweepEscalated()                    {}

// NopInstrumentation returns an Instrumentation that discards signals
func NopInstrumentation() Instrumentation { return nopInstrumentation{} }
