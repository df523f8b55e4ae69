package guardrails

// Decision is the closed verdict vocabulary of the guardrail gate.
type Decision string

const (
	// DecisionAllow lets the input reach the active agent.
	DecisionAllow Decision = "allow"
	// DecisionBlock short-circuits the turn; the agent is never invoked.
	DecisionBlock Decision = "block"
	// DecisionNeedsClarification short-circuits like block, with a softer
	// re-prompting message.
	DecisionNeedsClarification Decision = "needs_clarification"
)

// Verdict is the gate's ruling for one input. Produced fresh per turn and
// recorded on the turn's audit record; never persisted beyond it.
type Verdict struct {
	Decision Decision `json:"decision"`
	// Message is the user-facing text emitted when the turn short-circuits.
	Message string `json:"message,omitempty"`
	// Reason explains the ruling for the audit record.
	Reason string `json:"reason,omitempty"`
	// Source names the validator or classifier that produced the ruling.
	Source string `json:"source,omitempty"`
}

// Allowed reports whether the input may reach the active agent.
func (v *Verdict) Allowed() bool {
	return v != nil && v.Decision == DecisionAllow
}

// Allow builds an allow verdict.
func Allow(source string) *Verdict {
	return &Verdict{Decision: DecisionAllow, Source: source}
}

// Block builds a block verdict.
func Block(source, reason, message string) *Verdict {
	return &Verdict{Decision: DecisionBlock, Source: source, Reason: reason, Message: message}
}

// Clarify builds a needs-clarification verdict.
func Clarify(source, reason, message string) *Verdict {
	return &Verdict{Decision: DecisionNeedsClarification, Source: source, Reason: reason, Message: message}
}
