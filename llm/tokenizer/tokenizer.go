// Package tokenizer provides token counting for prompt budgeting. Agents
// include as much conversation history as fits a token budget; the counter
// decides where the cut falls.
package tokenizer

import "unicode/utf8"

// Tokenizer counts tokens for a given model family.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	Model() string
}

// Estimator is a dependency-free heuristic tokenizer (~4 characters per
// token for latin text). Used as fallback when the tiktoken data for a
// model is unavailable.
type Estimator struct {
	model string
}

// NewEstimator creates a heuristic tokenizer for the given model label.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

// CountTokens estimates the token count. Never fails.
func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n := utf8.RuneCountInString(text)
	tokens := n / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens, nil
}

// Model returns the model label.
func (e *Estimator) Model() string { return e.model }
