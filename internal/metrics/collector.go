// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns the orchestrator's Prometheus metrics.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// turn metrics
	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	verdictsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	directivesTotal   *prometheus.CounterVec
	slotRejections    prometheus.Counter
	persistenceErrors prometheus.Counter

	// LLM metrics
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the orchestrator metrics under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of processed conversation turns",
		},
		[]string{"agent", "verdict"},
	)
	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn processing duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)
	c.verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_verdicts_total",
			Help:      "Total number of guardrail verdicts by decision and source",
		},
		[]string{"decision", "source"},
	)
	c.transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	c.directivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Total number of handoff directives by outcome",
		},
		[]string{"outcome"}, // applied, rejected
	)
	c.slotRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_overwrite_rejections_total",
			Help:      "Total number of rejected slot overwrite attempts",
		},
	)
	c.persistenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Total number of non-fatal persistence failures",
		},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)
	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn records one processed conversation turn.
func (c *Collector) RecordTurn(agent, verdict string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(agent, verdict).Inc()
	c.turnDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordVerdict records one guardrail verdict.
func (c *Collector) RecordVerdict(decision, source string) {
	c.verdictsTotal.WithLabelValues(decision, source).Inc()
}

// RecordTransition records one state transition.
func (c *Collector) RecordTransition(from, to string) {
	c.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordDirective records a handoff directive outcome.
func (c *Collector) RecordDirective(outcome string) {
	c.directivesTotal.WithLabelValues(outcome).Inc()
}

// RecordSlotRejections adds n rejected slot overwrite attempts.
func (c *Collector) RecordSlotRejections(n int) {
	if n > 0 {
		c.slotRejections.Add(float64(n))
	}
}

// RecordPersistenceError records one non-fatal persistence failure.
func (c *Collector) RecordPersistenceError() {
	c.persistenceErrors.Inc()
}

// RecordLLMRequest records one LLM request.
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// statusCode buckets an HTTP status code for the label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
