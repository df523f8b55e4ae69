package handoff

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/finagents/loanflow/agent/conversation"
)

// DirectiveSource records who requested the transfer.
type DirectiveSource string

const (
	// SourceAgent marks a transfer requested by an agent's structured output.
	SourceAgent DirectiveSource = "agent"
	// SourceUser marks a transfer the user asked for in free text. Both
	// sources are validated through the same transition rules.
	SourceUser DirectiveSource = "user"
)

// Directive is an agent's (or user's) structured request to transfer
// control to a different agent. Transient: validated and applied within the
// turn that produced it, then summarised onto the audit record.
type Directive struct {
	Target    AgentState      `json:"target"`
	Rationale string          `json:"rationale,omitempty"`
	Source    DirectiveSource `json:"source"`
	// InvalidSlots names the facts the evaluator found inconsistent. Only
	// honoured on the Evaluating -> Profiling backward edge; those slots
	// are cleared for re-elicitation.
	InvalidSlots []conversation.SlotName `json:"invalid_slots,omitempty"`
}

// String summarises the directive for turn records.
func (d *Directive) String() string {
	if d == nil {
		return ""
	}
	if d.Rationale == "" {
		return fmt.Sprintf("%s->%s", d.Source, d.Target)
	}
	return fmt.Sprintf("%s->%s (%s)", d.Source, d.Target, d.Rationale)
}

// transferPattern matches explicit user transfer requests such as
// "talk to the evaluator" or "hand me over to the profiler".
var transferPattern = regexp.MustCompile(
	`(?i)\b(?:talk|speak)\s+(?:to|with)\s+(?:the\s+)?(\w+)|\b(?:transfer|hand)\s+(?:me\s+)?(?:over\s+)?to\s+(?:the\s+)?(\w+)`,
)

// targetAliases maps user vocabulary onto states.
var targetAliases = map[string]AgentState{
	"evaluator":   StateEvaluating,
	"evaluation":  StateEvaluating,
	"underwriter": StateEvaluating,
	"profiler":    StateProfiling,
	"router":      StateRouting,
	"intent":      StateRouting,
}

// ParseUserTransferRequest normalizes a free-form transfer request into a
// Directive so user-triggered and agent-triggered transfers share one
// validation path. Returns nil when the input is not a transfer request.
func ParseUserTransferRequest(input string) *Directive {
	m := transferPattern.FindStringSubmatch(input)
	if m == nil {
		return nil
	}
	word := m[1]
	if word == "" {
		word = m[2]
	}
	target, ok := targetAliases[strings.ToLower(word)]
	if !ok {
		return nil
	}
	return &Directive{
		Target:    target,
		Rationale: "user requested transfer",
		Source:    SourceUser,
	}
}
