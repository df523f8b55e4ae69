// Package handoff implements the orchestration core: a closed state machine
// over the intent router, the loan profiler, and the product evaluator, with
// a single controller that owns every mutation of the conversation context.
//
// Control moves between agents only through directives. Agents and users
// request transfers; the controller validates each request against the
// transition table and applies or rejects it. Valid directives are deferred:
// the state changes at the end of the turn and the target agent produces its
// first reply on the next one, so every reply the user reads comes from the
// agent that was active when they spoke.
package handoff
