package llm

import "context"

// Provider is the opaque model-invocation capability the orchestrator
// depends on. The conversation core only ever sees this interface; which
// vendor serves the completion is a deployment concern.
type Provider interface {
	// Completion issues a synchronous chat request and returns the full
	// response. Implementations must honour ctx cancellation and map
	// upstream failures to *Error so callers can distinguish timeouts
	// from malformed output.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck performs a lightweight liveness probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's unique identifier.
	Name() string
}

// IsTimeout reports whether err is a provider timeout. Timeouts are the
// failure kind the controller must treat as a distinct, retryable
// ModelInvocationFailure rather than hang on.
func IsTimeout(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == ErrUpstreamTimeout
	}
	return false
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
