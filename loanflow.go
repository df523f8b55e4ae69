// Package loanflow provides a top-level convenience entry point for building
// the loan-origination orchestrator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/finagents/loanflow"
//
//	ctrl, err := loanflow.New(loanflow.WithProvider(myProvider))
//	result, err := ctrl.SubmitTurn(ctx, sessionID, "I'd like a car loan")
//
// The default pipeline uses an in-memory session store, local guardrail
// validators without the semantic classifier, and the stock agent
// configuration. Service deployments should wire components explicitly
// instead; see cmd/loanflow.
package loanflow

import (
	"errors"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/evaluator"
	"github.com/finagents/loanflow/agent/guardrails"
	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/agent/intent"
	"github.com/finagents/loanflow/agent/profiler"
	"github.com/finagents/loanflow/llm"
	"github.com/finagents/loanflow/session"
)

// Option configures the orchestrator created by [New].
type Option func(*options)

type options struct {
	provider   llm.Provider
	classifier guardrails.Classifier
	store      session.Store
	gateConfig guardrails.GateConfig
	logger     *zap.Logger
}

// WithProvider sets the model provider backing the router, profiler, and
// (when enabled) the guardrail classifier.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithClassifier sets the semantic guardrail classifier. Without one the
// gate runs local validators only.
func WithClassifier(c guardrails.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithStore sets the session store. Defaults to in-memory.
func WithStore(s session.Store) Option {
	return func(o *options) { o.store = s }
}

// WithGateConfig overrides the guardrail gate configuration.
func WithGateConfig(cfg guardrails.GateConfig) Option {
	return func(o *options) { o.gateConfig = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds a ready-to-use handoff controller. A provider is required.
func New(opts ...Option) (*handoff.Controller, error) {
	o := &options{
		gateConfig: guardrails.DefaultGateConfig(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == nil {
		return nil, errors.New("loanflow: a model provider is required; use WithProvider")
	}
	if o.store == nil {
		o.store = session.NewMemoryStore(o.logger)
	}

	gate := guardrails.NewGate(o.gateConfig, o.classifier, o.logger)
	agents := handoff.Agents{
		Router:    intent.New(o.provider, intent.DefaultConfig(), o.logger),
		Profiler:  profiler.New(o.provider, profiler.DefaultConfig(), nil, o.logger),
		Evaluator: evaluator.New(nil, o.logger),
	}
	return handoff.NewController(gate, agents, o.store,
		handoff.WithLogger(o.logger),
	), nil
}
