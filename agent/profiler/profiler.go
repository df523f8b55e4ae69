// Package profiler implements the interviewing agent that fills the
// required loan facts one question at a time.
package profiler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/llm"
	"github.com/finagents/loanflow/llm/tokenizer"
)

const extractionSystemPrompt = `You extract loan application facts from the user's latest message.
Known facts so far: %s
Only report facts the LATEST message states or clearly implies. Never guess.

Respond with a single JSON object; omit any field the message doesn't cover:
{
  "purpose": one of "home_purchase","car_purchase","debt_consolidation","business_investment","education",
  "amount": dollars as a number,
  "term": months as an integer,
  "credit_score": one of "excellent","good","fair","poor",
  "collateral": true or false,
  "income": annual income in dollars,
  "existing_debt": total existing debt in dollars,
  "acknowledgement": "one short sentence acknowledging what the user just told you"
}`

// questions is the fixed elicitation script, indexed by slot. Asking for the
// lowest-index missing slot keeps interviews reproducible.
var questions = map[conversation.SlotName]string{
	conversation.SlotPurpose:      "What is the purpose of the loan? For example home purchase, car purchase, debt consolidation, business investment, or education.",
	conversation.SlotAmount:       "What loan amount are you looking for, in dollars?",
	conversation.SlotTerm:         "What loan term would you prefer, in months? For example 12, 24, or 36.",
	conversation.SlotCreditScore:  "How would you describe your credit score range: excellent, good, fair, or poor?",
	conversation.SlotCollateral:   "Do you have any collateral to offer for the loan, such as property, a vehicle, or savings?",
	conversation.SlotIncome:       "What is your annual income, in dollars?",
	conversation.SlotExistingDebt: "Roughly how much existing debt do you carry today, in dollars?",
}

// Config configures the profiler agent.
type Config struct {
	Model         string        `yaml:"model" json:"model"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature   float64       `yaml:"temperature" json:"temperature"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	HistoryBudget int           `yaml:"history_budget" json:"history_budget"`
}

// DefaultConfig returns the profiler defaults.
func DefaultConfig() Config {
	return Config{
		Model:         "gpt-4.1",
		MaxTokens:     500,
		Temperature:   0.1,
		Timeout:       30 * time.Second,
		HistoryBudget: 2000,
	}
}

// Profiler interviews the user until every required fact is known, then
// requests the handoff to evaluation. It implements handoff.Profiler.
//
// The model only extracts facts; which question to ask next is decided
// deterministically from the missing-slot list, not by the model.
type Profiler struct {
	provider  llm.Provider
	cfg       Config
	required  []conversation.SlotName
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// New creates the profiler agent.
func New(provider llm.Provider, cfg Config, required []conversation.SlotName, logger *zap.Logger) *Profiler {
	if cfg.Model == "" {
		cfg = DefaultConfig()
	}
	if len(required) == 0 {
		required = conversation.DefaultRequiredSlots()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{
		provider:  provider,
		cfg:       cfg,
		required:  required,
		tokenizer: tokenizer.ForModel(cfg.Model),
		logger:    logger.With(zap.String("component", "loan_profiler")),
	}
}

// extraction is the model's structured output. Pointer fields distinguish
// "not mentioned" from zero values.
type extraction struct {
	Purpose         *string  `json:"purpose"`
	Amount          *float64 `json:"amount"`
	Term            *int64   `json:"term"`
	CreditScore     *string  `json:"credit_score"`
	Collateral      *bool    `json:"collateral"`
	Income          *float64 `json:"income"`
	ExistingDebt    *float64 `json:"existing_debt"`
	Acknowledgement string   `json:"acknowledgement"`
}

// Elicit implements handoff.Profiler.
func (p *Profiler) Elicit(ctx context.Context, snapshot *conversation.Context, input string) (*handoff.AgentResult, error) {
	ext, err := p.extract(ctx, snapshot, input)
	if err != nil {
		return nil, err
	}
	updates := p.validate(ext)

	// Preview what the controller's merge will produce; overwrites of known
	// facts won't apply, so preview against the snapshot.
	known := snapshot.Slots.Clone()
	known.Merge(updates)

	missing := known.Missing(p.required)
	if len(missing) == 0 {
		return &handoff.AgentResult{
			Reply: fmt.Sprintf(
				"Thanks, that's everything I need (%s). Let me bring in our product evaluator to review your application.",
				known.Summary(),
			),
			SlotUpdates: updates,
			Directive: &handoff.Directive{
				Target:    handoff.StateEvaluating,
				Rationale: "all required facts collected",
				Source:    handoff.SourceAgent,
			},
		}, nil
	}

	reply := questions[missing[0]]
	if ack := strings.TrimSpace(ext.Acknowledgement); ack != "" {
		reply = ack + " " + reply
	}
	return &handoff.AgentResult{Reply: reply, SlotUpdates: updates}, nil
}

func (p *Profiler) extract(ctx context.Context, snapshot *conversation.Context, input string) (*extraction, error) {
	knownSummary := snapshot.Slots.Summary()
	if knownSummary == "" {
		knownSummary = "none"
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(extractionSystemPrompt, knownSummary)},
	}
	messages = append(messages, snapshot.RecentMessages(p.cfg.HistoryBudget, p.tokenizer.CountTokens)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
		SessionID:      snapshot.SessionID,
		AgentRole:      "loan_profiler",
		Model:          p.cfg.Model,
		Messages:       messages,
		MaxTokens:      p.cfg.MaxTokens,
		Temperature:    float32(p.cfg.Temperature),
		Timeout:        p.cfg.Timeout,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var ext extraction
	if err := llm.DecodeJSONBlock(llm.FirstChoiceText(resp), &ext); err != nil {
		p.logger.Warn("malformed extraction output", zap.Error(err))
		return nil, err
	}
	return &ext, nil
}

// validate converts the extraction into slot updates, dropping values that
// fall outside the closed vocabularies or plausible ranges. A dropped value
// just means the slot gets asked again.
func (p *Profiler) validate(ext *extraction) conversation.SlotSet {
	updates := conversation.NewSlotSet()

	if ext.Purpose != nil {
		if v := strings.ToLower(strings.TrimSpace(*ext.Purpose)); conversation.ValidPurpose(v) {
			updates[conversation.SlotPurpose] = conversation.StringValue(v)
		} else {
			p.logger.Debug("dropped purpose outside vocabulary", zap.String("value", *ext.Purpose))
		}
	}
	if ext.CreditScore != nil {
		if v := strings.ToLower(strings.TrimSpace(*ext.CreditScore)); conversation.ValidCreditScore(v) {
			updates[conversation.SlotCreditScore] = conversation.StringValue(v)
		} else {
			p.logger.Debug("dropped credit score outside vocabulary", zap.String("value", *ext.CreditScore))
		}
	}
	if ext.Amount != nil && *ext.Amount > 0 {
		updates[conversation.SlotAmount] = conversation.NumberValue(*ext.Amount)
	}
	if ext.Term != nil && *ext.Term > 0 {
		updates[conversation.SlotTerm] = conversation.IntegerValue(*ext.Term)
	}
	if ext.Collateral != nil {
		updates[conversation.SlotCollateral] = conversation.BoolValue(*ext.Collateral)
	}
	if ext.Income != nil && *ext.Income >= 0 {
		updates[conversation.SlotIncome] = conversation.NumberValue(*ext.Income)
	}
	if ext.ExistingDebt != nil && *ext.ExistingDebt >= 0 {
		updates[conversation.SlotExistingDebt] = conversation.NumberValue(*ext.ExistingDebt)
	}
	return updates
}
