package guardrail

import "context"

type contextKey struct{}

// WithMonitor attaches a monitor to the context so model bodies can reach
// their step's guardrails without widening the function contract.
func WithMonitor(ctx context.Context, m *Monitor) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext returns the step's monitor. Outside a monitored execution it
// returns a monitor with no budgets, so call sites never need a nil check.
func FromContext(ctx context.Context) *Monitor {
	if m, ok := ctx.Value(contextKey{}).(*Monitor); ok {
		return m
	}
	return NewMonitor(Budgets{}, nil)
}
