// Package evaluator implements the terminal agent: risk tiering and product
// recommendation over a completed profile.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/conversation"
	"github.com/finagents/loanflow/agent/handoff"
)

// Evaluator turns a completed slot set into a recommendation and ends the
// session. It implements handoff.Evaluator.
//
// The decision itself is rules-based: tiering and catalog matching live
// behind the Matcher interface and need no model call, which keeps the
// underwriting outcome reproducible and auditable. Before deciding, the
// profile is checked for internal consistency; inconsistent facts send the
// session back to profiling with the offending slots named for
// re-elicitation.
type Evaluator struct {
	matcher Matcher
	logger  *zap.Logger
}

// New creates the evaluator agent. A nil matcher uses the default catalog.
func New(matcher Matcher, logger *zap.Logger) *Evaluator {
	if matcher == nil {
		matcher = NewTierMatcher(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		matcher: matcher,
		logger:  logger.With(zap.String("component", "product_evaluator")),
	}
}

// Evaluate implements handoff.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, snapshot *conversation.Context) (*handoff.AgentResult, error) {
	if invalid, reason := inconsistentSlots(snapshot.Slots); len(invalid) > 0 {
		e.logger.Info("profile inconsistent, returning to profiling",
			zap.String("session_id", snapshot.SessionID),
			zap.Any("slots", invalid),
			zap.String("reason", reason),
		)
		return &handoff.AgentResult{
			Reply: fmt.Sprintf(
				"Before I can evaluate your application I need to double-check something: %s. Let me hand you back to our loan profiler.",
				reason,
			),
			Directive: &handoff.Directive{
				Target:       handoff.StateProfiling,
				Rationale:    reason,
				Source:       handoff.SourceAgent,
				InvalidSlots: invalid,
			},
		}, nil
	}

	tier, products, err := e.matcher.Match(snapshot.Slots)
	if err != nil {
		return nil, err
	}

	return &handoff.AgentResult{
		Reply: renderRecommendation(snapshot.Slots, tier, products),
		Directive: &handoff.Directive{
			Target:    handoff.StateTerminated,
			Rationale: fmt.Sprintf("evaluation complete, tier %s, %d products", tier, len(products)),
			Source:    handoff.SourceAgent,
		},
	}, nil
}

// inconsistentSlots checks a complete profile for contradictions the
// per-slot validation cannot see. Returns the slots to re-elicit and a
// user-facing reason.
func inconsistentSlots(slots conversation.SlotSet) ([]conversation.SlotName, string) {
	amount, hasAmount := slots[conversation.SlotAmount]
	if hasAmount && amount.Number <= 0 {
		return []conversation.SlotName{conversation.SlotAmount},
			"the loan amount on file isn't a positive figure"
	}

	term, hasTerm := slots[conversation.SlotTerm]
	if hasTerm && (term.Integer <= 0 || term.Integer > 480) {
		return []conversation.SlotName{conversation.SlotTerm},
			"the loan term on file isn't a workable number of months"
	}

	income, hasIncome := slots[conversation.SlotIncome]
	debt, hasDebt := slots[conversation.SlotExistingDebt]
	if hasIncome && hasDebt && income.Number > 0 && debt.Number > income.Number*10 {
		return []conversation.SlotName{conversation.SlotIncome, conversation.SlotExistingDebt},
			"the income and existing debt figures don't look consistent with each other"
	}

	return nil, ""
}

func renderRecommendation(slots conversation.SlotSet, tier Tier, products []Product) string {
	var b strings.Builder
	amount := slots[conversation.SlotAmount]
	purpose := strings.ReplaceAll(slots[conversation.SlotPurpose].Text, "_", " ")

	fmt.Fprintf(&b, "Based on your profile (%s of $%s over %s months, %s credit), your application falls into our %s tier.",
		purpose,
		amount.String(),
		slots[conversation.SlotTerm].String(),
		slots[conversation.SlotCreditScore].Text,
		tier,
	)

	if len(products) == 0 {
		b.WriteString(" Unfortunately none of our current products fit that combination of amount and term. You may want to adjust the amount or term and apply again.")
		return b.String()
	}

	b.WriteString(" I can offer you:")
	for _, p := range products {
		fmt.Fprintf(&b, "\n  - %s at %.1f%% APR", p.Name, p.RateAPR)
	}
	b.WriteString("\nA loan officer will follow up to finalize the paperwork. Thanks for applying with us!")
	return b.String()
}
