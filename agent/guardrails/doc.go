// Package guardrails screens raw user input before any task agent sees it.
//
// The gate combines two layers: deterministic local validators (length,
// blocked keywords, PII patterns, injection patterns) and a semantic
// classifier backed by a small model. Verdicts use a fixed vocabulary
// (allow, block, needs_clarification) so the handoff controller never
// depends on how a ruling was computed.
//
// The gate fails closed: if the classification call itself errors or
// returns malformed output, the verdict is block with a generic retry
// message. There is no fail-open configuration.
package guardrails
