// Package guardrail bounds the resource consumption of a single long-running
// step. A Monitor carries three independent budgets (tokens, tool calls,
// wall-clock time); breaching one is a controlled stop, never an error: the
// step keeps whatever partial result it has and finishes at its next safe
// point.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loom/internal/config"
)

// Budget names reported in stop reasons and trigger events.
const (
	BudgetTokens    = "max_tokens"
	BudgetToolCalls = "max_tool_calls"
	BudgetSeconds   = "max_seconds"
)

// ErrTimeBudget is the cancellation cause installed by Start when the time
// budget expires. Callers distinguish it from an external cancellation via
// context.Cause.
var ErrTimeBudget = errors.New("guardrail: time budget exhausted")

// Budgets holds the three limits. Zero disables a budget.
type Budgets struct {
	MaxTokens    int64
	MaxToolCalls int64
	MaxSeconds   int64
}

// FromConfig lifts the configured default budgets.
func FromConfig(g config.Guardrails) Budgets {
	return Budgets{
		MaxTokens:    g.MaxTokens,
		MaxToolCalls: g.MaxToolCalls,
		MaxSeconds:   g.MaxSeconds,
	}
}

// Enabled reports whether any budget is set.
func (b Budgets) Enabled() bool {
	return b.MaxTokens > 0 || b.MaxToolCalls > 0 || b.MaxSeconds > 0
}

// TriggerFunc observes the first budget breach. It runs synchronously under
// the monitor's lock, so implementations should be quick (emit an event,
// log) and must not call back into the monitor.
type TriggerFunc func(budget string, limit, observed int64)

// Monitor tracks cumulative usage against Budgets. All methods are safe for
// concurrent use; a step that fans work out to goroutines can share one
// monitor.
type Monitor struct {
	budgets   Budgets
	onTrigger TriggerFunc

	mu         sync.Mutex
	tokens     int64
	toolCalls  int64
	triggered  bool
	stopReason string
}

// NewMonitor builds a monitor. onTrigger may be nil.
func NewMonitor(budgets Budgets, onTrigger TriggerFunc) *Monitor {
	return &Monitor{budgets: budgets, onTrigger: onTrigger}
}

// Start applies the time budget to ctx. The returned context is canceled
// with ErrTimeBudget as its cause when the budget expires, which fires even
// while the step is blocked in I/O. With no time budget configured the
// context passes through untouched apart from the cancel handle.
func (m *Monitor) Start(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.budgets.MaxSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	limit := time.Duration(m.budgets.MaxSeconds) * time.Second
	ctx, cancel := context.WithTimeoutCause(ctx, limit, ErrTimeBudget)
	stop := context.AfterFunc(ctx, func() {
		if context.Cause(ctx) == ErrTimeBudget {
			m.trip(BudgetSeconds, m.budgets.MaxSeconds, m.budgets.MaxSeconds)
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// AllowTool is the checkpoint before a tool invocation. It returns false when
// the tool-call budget is exhausted; the call must not be made and the step
// should stop at its next safe point. Allowed calls are counted.
func (m *Monitor) AllowTool() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triggered {
		return false
	}
	if m.budgets.MaxToolCalls > 0 && m.toolCalls >= m.budgets.MaxToolCalls {
		m.tripLocked(BudgetToolCalls, m.budgets.MaxToolCalls, m.toolCalls)
		return false
	}
	m.toolCalls++
	return true
}

// RecordTokens is the checkpoint after a unit of LLM usage. The recorded
// tokens always count, even the breaching amount: usage has already happened
// by the time the step can report it.
func (m *Monitor) RecordTokens(input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens += input + output
	if !m.triggered && m.budgets.MaxTokens > 0 && m.tokens > m.budgets.MaxTokens {
		m.tripLocked(BudgetTokens, m.budgets.MaxTokens, m.tokens)
	}
}

// ShouldStop reports whether a budget has been breached. Steps poll it at
// loop boundaries.
func (m *Monitor) ShouldStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// StopReason returns the reason set by the first breach, or "" when no
// budget has been breached.
func (m *Monitor) StopReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopReason
}

// Usage returns the cumulative token and tool-call counters.
func (m *Monitor) Usage() (tokens, toolCalls int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.toolCalls
}

// MarkTimeExceeded records the time budget breach. Start arranges for this
// automatically when the deadline fires, but the notification is
// asynchronous; callers observing ErrTimeBudget as a cancellation cause call
// it to synchronize before reading StopReason. Idempotent.
func (m *Monitor) MarkTimeExceeded() {
	if m.budgets.MaxSeconds <= 0 {
		return
	}
	m.trip(BudgetSeconds, m.budgets.MaxSeconds, m.budgets.MaxSeconds)
}

func (m *Monitor) trip(budget string, limit, observed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripLocked(budget, limit, observed)
}

// tripLocked records the first breach only; later breaches of other budgets
// do not overwrite the stop reason.
func (m *Monitor) tripLocked(budget string, limit, observed int64) {
	if m.triggered {
		return
	}
	m.triggered = true
	m.stopReason = fmt.Sprintf("%s budget exceeded (limit %d)", budget, limit)
	if m.onTrigger != nil {
		m.onTrigger(budget, limit, observed)
	}
}
