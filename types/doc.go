// Package types defines shared error codes and context propagation helpers
// used across the loanflow orchestrator.
package types
