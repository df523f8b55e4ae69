package guardrails

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/finagents/loanflow/agent/conversation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// User-facing messages for short-circuited turns.
const (
	failClosedMessage = "I couldn't verify that message just now. Please try again."
	blockedMessage    = "I can't help with that. Please keep the conversation to your loan request, without personal identifiers."
	clarifyMessage    = "I can only help with loan applications. Could you rephrase your request in those terms?"
)

// GateConfig configures the guardrail gate.
type GateConfig struct {
	MaxInputLength     int      `json:"max_input_length" yaml:"max_input_length"`
	BlockedKeywords    []string `json:"blocked_keywords" yaml:"blocked_keywords"`
	PIIDetection       bool     `json:"pii_detection" yaml:"pii_detection"`
	InjectionDetection bool     `json:"injection_detection" yaml:"injection_detection"`
	// Parallel runs local validators concurrently; findings still resolve
	// deterministically by validator priority.
	Parallel bool `json:"parallel" yaml:"parallel"`
	// AllowOffTopicStates lists agent states in which off-topic-but-safe
	// input passes through (the router owns the redirect reply there).
	AllowOffTopicStates []string `json:"allow_off_topic_states" yaml:"allow_off_topic_states"`
}

// DefaultGateConfig returns the default gate configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxInputLength:      10000,
		PIIDetection:        true,
		InjectionDetection:  true,
		AllowOffTopicStates: []string{"", "routing"},
	}
}

// Gate screens raw user input before any task agent sees it. Local
// validators run first (cheap, deterministic), then the semantic classifier.
// There is no bypass path and no fail-open mode: an internal failure in the
// classification call yields a block verdict with a generic retry message.
type Gate struct {
	cfg        GateConfig
	validators []Validator
	classifier Classifier
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewGate builds a gate from config. classifier may be nil (local
// validators only), which is the degraded mode used in tests and offline
// deployments.
func NewGate(cfg GateConfig, classifier Classifier, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger.With(zap.String("component", "guardrail_gate")),
	}
	g.validators = append(g.validators, NewMaxLengthValidator(cfg.MaxInputLength))
	if len(cfg.BlockedKeywords) > 0 {
		g.validators = append(g.validators, NewBlockedKeywordValidator(cfg.BlockedKeywords))
	}
	if cfg.PIIDetection {
		g.validators = append(g.validators, NewPIIDetector())
	}
	if cfg.InjectionDetection {
		g.validators = append(g.validators, NewInjectionDetector())
	}
	sort.Slice(g.validators, func(i, j int) bool {
		return g.validators[i].Priority() < g.validators[j].Priority()
	})
	return g
}

// Add registers an extra validator.
func (g *Gate) Add(v Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validators = append(g.validators, v)
	sort.Slice(g.validators, func(i, j int) bool {
		return g.validators[i].Priority() < g.validators[j].Priority()
	})
}

// Check screens input and returns a verdict. It never returns an error:
// internal failures fail closed into a block verdict.
func (g *Gate) Check(ctx context.Context, input string, snapshot *conversation.Context) *Verdict {
	if strings.TrimSpace(input) == "" {
		return Clarify("gate", "empty input", "I didn't catch that. What would you like to do?")
	}

	if verdict := g.runValidators(ctx, input); verdict != nil {
		g.logger.Info("input rejected by validator",
			zap.String("source", verdict.Source),
			zap.String("reason", verdict.Reason),
		)
		return verdict
	}

	if g.classifier == nil {
		return Allow("validators")
	}

	classification, err := g.classifier.Classify(ctx, input, snapshot)
	if err != nil {
		// Fail closed: the active agent must never see unscreened input.
		g.logger.Warn("classification failed, failing closed", zap.Error(err))
		return Block("classifier", "classification call failed: "+err.Error(), failClosedMessage)
	}

	if !classification.Safe {
		return Block("classifier", reasonOrDefault(classification.Feedback, "unsafe input"), blockedMessage)
	}
	if !classification.OnTopic {
		if g.offTopicAllowed(snapshot) {
			// The router owns redirect replies at this stage.
			return Allow("classifier")
		}
		return Clarify("classifier", reasonOrDefault(classification.Feedback, "off-topic input"), clarifyMessage)
	}
	return Allow("classifier")
}

// runValidators executes local validators and resolves findings by priority
// order. Returns nil when every validator passes.
func (g *Gate) runValidators(ctx context.Context, input string) *Verdict {
	g.mu.RLock()
	validators := make([]Validator, len(g.validators))
	copy(validators, g.validators)
	g.mu.RUnlock()

	results := make([]*Result, len(validators))
	if g.cfg.Parallel {
		eg, egCtx := errgroup.WithContext(ctx)
		for i, v := range validators {
			eg.Go(func() error {
				res, err := v.Validate(egCtx, input)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Block("validators", "validator failure: "+err.Error(), failClosedMessage)
		}
	} else {
		for i, v := range validators {
			res, err := v.Validate(ctx, input)
			if err != nil {
				return Block(v.Name(), "validator failure: "+err.Error(), failClosedMessage)
			}
			results[i] = res
		}
	}

	for i, res := range results {
		if res == nil || res.Valid {
			continue
		}
		if res.Tripwire {
			return Block(validators[i].Name(), res.Reason, blockedMessage)
		}
		return Clarify(validators[i].Name(), res.Reason, clarifyMessage)
	}
	return nil
}

func (g *Gate) offTopicAllowed(snapshot *conversation.Context) bool {
	state := ""
	if snapshot != nil {
		state = snapshot.Active
	}
	for _, s := range g.cfg.AllowOffTopicStates {
		if s == state {
			return true
		}
	}
	return false
}

func reasonOrDefault(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}
