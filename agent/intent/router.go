// Package intent implements the router agent that classifies a new
// session's goal before any loan-specific work begins.
package intent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/llm"
	"github.com/finagents/loanflow/llm/tokenizer"
)

const routerSystemPrompt = `You are the intake assistant of a loan-origination service.
Decide whether the LATEST user message is about obtaining a loan.

in_domain: the user wants to apply for, ask about, or continue a loan request.
ambiguous: the goal could plausibly be a loan request but isn't stated
(e.g. "I need money for a car"). Ambiguous goals move forward.
Neither: general finance questions (credit cards, savings, investing) or
anything else. Politely explain you only handle loan applications and point
them back.

Respond with a single JSON object:
{"in_domain": bool, "ambiguous": bool, "reply": "one or two sentences to the user"}`

const defaultRedirect = "I can only help with loan applications here. If you'd like to apply for a loan, tell me what it's for and we can get started."

// Config configures the router agent.
type Config struct {
	Model         string        `yaml:"model" json:"model"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature   float64       `yaml:"temperature" json:"temperature"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	HistoryBudget int           `yaml:"history_budget" json:"history_budget"`
}

// DefaultConfig returns the router defaults. Classification is a cheap task;
// a small model and tight budgets suffice.
func DefaultConfig() Config {
	return Config{
		Model:         "gpt-4o-mini",
		MaxTokens:     200,
		Temperature:   0.2,
		Timeout:       15 * time.Second,
		HistoryBudget: 1000,
	}
}

// Router classifies user goals with a model. It implements handoff.Router.
type Router struct {
	provider  llm.Provider
	cfg       Config
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// New creates the router agent.
func New(provider llm.Provider, cfg Config, logger *zap.Logger) *Router {
	if cfg.Model == "" {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		provider:  provider,
		cfg:       cfg,
		tokenizer: tokenizer.ForModel(cfg.Model),
		logger:    logger.With(zap.String("component", "intent_router")),
	}
}

// routerOutput is the model's structured ruling.
type routerOutput struct {
	InDomain  bool   `json:"in_domain"`
	Ambiguous bool   `json:"ambiguous"`
	Reply     string `json:"reply"`
}

// Classify implements handoff.Router. Provider failures and malformed output
// propagate as errors; the controller owns the retry.
func (r *Router) Classify(ctx context.Context, snapshot *conversation.Context, input string) (*handoff.RouteDecision, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: routerSystemPrompt}}
	messages = append(messages, snapshot.RecentMessages(r.cfg.HistoryBudget, r.tokenizer.CountTokens)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	resp, err := r.provider.Completion(ctx, &llm.ChatRequest{
		SessionID:      snapshot.SessionID,
		AgentRole:      "intent_router",
		Model:          r.cfg.Model,
		Messages:       messages,
		MaxTokens:      r.cfg.MaxTokens,
		Temperature:    float32(r.cfg.Temperature),
		Timeout:        r.cfg.Timeout,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var out routerOutput
	if err := llm.DecodeJSONBlock(llm.FirstChoiceText(resp), &out); err != nil {
		r.logger.Warn("malformed routing output", zap.Error(err))
		return nil, err
	}

	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		if out.InDomain || out.Ambiguous {
			reply = "Happy to help with your loan. Let me gather a few details."
		} else {
			reply = defaultRedirect
		}
	}

	return &handoff.RouteDecision{
		InDomain:  out.InDomain,
		Ambiguous: out.Ambiguous,
		Reply:     reply,
	}, nil
}
