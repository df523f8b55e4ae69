// Package mocks contains test doubles shared across package tests.
package mocks

import (
	"context"
	"sync"

	"github.com/finagents/loanflow/llm"
)

// ScriptedProvider is an llm.Provider that replays a fixed script of
// responses. Each Completion call consumes the next step; an exhausted
// script returns a provider-unavailable error.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []*llm.ChatRequest
}

type step struct {
	content string
	err     error
}

// NewScriptedProvider creates an empty provider. Queue responses with
// Reply and Fail.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{}
}

// Reply queues a successful completion with the given content.
func (p *ScriptedProvider) Reply(content string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{content: content})
	return p
}

// Fail queues a failing completion.
func (p *ScriptedProvider) Fail(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{err: err})
	return p
}

// Completion implements llm.Provider.
func (p *ScriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return nil, &llm.Error{
			Code:      llm.ErrProviderUnavailable,
			Message:   "scripted provider exhausted",
			Retryable: false,
			Provider:  p.Name(),
		}
	}
	next := p.steps[0]
	p.steps = p.steps[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.ChatResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: next.content},
		}},
	}, nil
}

// HealthCheck implements llm.Provider.
func (p *ScriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

// Name implements llm.Provider.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Requests returns the requests seen so far.
func (p *ScriptedProvider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns the number of Completion calls so far.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
