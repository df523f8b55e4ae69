package handoff

import (
	"context"
	"time"

	"github.com/finagents/loanflow/agent/guardrails"
)

// Event is the per-turn audit record handed to the observability sink:
// the guardrail verdict, the active agent, any directive issued, and the
// resulting state.
type Event struct {
	SessionID     string              `json:"session_id"`
	TurnIndex     int                 `json:"turn_index"`
	Timestamp     time.Time           `json:"timestamp"`
	ActiveAgent   string              `json:"active_agent"`
	FromState     AgentState          `json:"from_state"`
	ToState       AgentState          `json:"to_state"`
	Verdict       guardrails.Decision `json:"verdict"`
	VerdictSource string              `json:"verdict_source,omitempty"`
	VerdictReason string              `json:"verdict_reason,omitempty"`
	Directive     string              `json:"directive,omitempty"`
	// DirectiveRejected marks a directive discarded as a protocol violation.
	DirectiveRejected bool   `json:"directive_rejected,omitempty"`
	RejectedSlots     int    `json:"rejected_slots,omitempty"`
	Error             string `json:"error,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

// AuditSink receives one Event per turn. Implementations must be cheap and
// non-blocking; the controller additionally dispatches asynchronously and
// swallows panics so a sink can never fail a turn.
type AuditSink interface {
	Record(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Record implements AuditSink.
func (NopSink) Record(context.Context, Event) {}

// MultiSink fans one event out to several sinks.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(ctx, event)
		}
	}
}
