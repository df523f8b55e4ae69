package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keySessionID contextKey = "session_id"
	keyTurnID    contextKey = "turn_id"
	keyAgentID   contextKey = "agent_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithSessionID adds the conversation session ID to context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts the conversation session ID from context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}

// WithTurnID adds the turn ID to context.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, keyTurnID, turnID)
}

// TurnID extracts the turn ID from context.
func TurnID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTurnID).(string)
	return v, ok && v != ""
}

// WithAgentID adds the active agent ID to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentID extracts the active agent ID from context.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentID).(string)
	return v, ok && v != ""
}
