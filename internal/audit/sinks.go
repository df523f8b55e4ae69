// Package audit provides the built-in audit sinks: structured logs,
// Prometheus metrics, and OTel spans. All of them implement
// handoff.AuditSink and are fanned out through handoff.MultiSink.
package audit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/internal/metrics"
)

// ZapSink writes each turn's audit record as one structured log line.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a log-based audit sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.With(zap.String("component", "audit"))}
}

// Record implements handoff.AuditSink.
func (s *ZapSink) Record(_ context.Context, e handoff.Event) {
	fields := []zap.Field{
		zap.String("session_id", e.SessionID),
		zap.Int("turn_index", e.TurnIndex),
		zap.String("active_agent", e.ActiveAgent),
		zap.String("from_state", string(e.FromState)),
		zap.String("to_state", string(e.ToState)),
		zap.String("verdict", string(e.Verdict)),
		zap.Int64("duration_ms", e.DurationMs),
	}
	if e.VerdictSource != "" {
		fields = append(fields, zap.String("verdict_source", e.VerdictSource))
	}
	if e.VerdictReason != "" {
		fields = append(fields, zap.String("verdict_reason", e.VerdictReason))
	}
	if e.Directive != "" {
		fields = append(fields, zap.String("directive", e.Directive))
	}
	if e.DirectiveRejected {
		fields = append(fields, zap.Bool("directive_rejected", true))
	}
	if e.RejectedSlots > 0 {
		fields = append(fields, zap.Int("rejected_slots", e.RejectedSlots))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
		s.logger.Warn("turn", fields...)
		return
	}
	s.logger.Info("turn", fields...)
}

// MetricsSink feeds turn outcomes into the Prometheus collector.
type MetricsSink struct {
	collector *metrics.Collector
}

// NewMetricsSink creates a metrics-based audit sink.
func NewMetricsSink(collector *metrics.Collector) *MetricsSink {
	return &MetricsSink{collector: collector}
}

// Record implements handoff.AuditSink.
func (s *MetricsSink) Record(_ context.Context, e handoff.Event) {
	if s.collector == nil {
		return
	}
	s.collector.RecordTurn(e.ActiveAgent, string(e.Verdict), time.Duration(e.DurationMs)*time.Millisecond)
	s.collector.RecordVerdict(string(e.Verdict), e.VerdictSource)
	if e.FromState != e.ToState {
		s.collector.RecordTransition(string(e.FromState), string(e.ToState))
	}
	if e.Directive != "" {
		s.collector.RecordDirective("applied")
	}
	if e.DirectiveRejected {
		s.collector.RecordDirective("rejected")
	}
	s.collector.RecordSlotRejections(e.RejectedSlots)
}

// SpanSink emits one span per turn so audit records line up with traces.
type SpanSink struct {
	tracer oteltrace.Tracer
}

// NewSpanSink creates a tracing audit sink using the global tracer provider.
func NewSpanSink() *SpanSink {
	return &SpanSink{tracer: otel.Tracer("loanflow/audit")}
}

// Record implements handoff.AuditSink.
func (s *SpanSink) Record(ctx context.Context, e handoff.Event) {
	end := e.Timestamp.Add(time.Duration(e.DurationMs) * time.Millisecond)
	_, span := s.tracer.Start(ctx, "turn",
		oteltrace.WithTimestamp(e.Timestamp),
		oteltrace.WithAttributes(
			attribute.String("session.id", e.SessionID),
			attribute.Int("turn.index", e.TurnIndex),
			attribute.String("agent.id", e.ActiveAgent),
			attribute.String("state.from", string(e.FromState)),
			attribute.String("state.to", string(e.ToState)),
			attribute.String("guardrail.verdict", string(e.Verdict)),
			attribute.Bool("directive.rejected", e.DirectiveRejected),
		),
	)
	if e.Directive != "" {
		span.SetAttributes(attribute.String("directive", e.Directive))
	}
	if e.Error != "" {
		span.SetStatus(codes.Error, e.Error)
	}
	span.End(oteltrace.WithTimestamp(end))
}
