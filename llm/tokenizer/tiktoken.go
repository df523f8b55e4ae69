package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"gpt-4.1-mini":  "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// Tiktoken is an exact tokenizer for OpenAI-family models.
type Tiktoken struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktoken creates a tiktoken-backed tokenizer for the given model.
// Unknown models fall back to cl100k_base.
func NewTiktoken(model string) *Tiktoken {
	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, e := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding, ok = e, true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}
	return &Tiktoken{model: model, encoding: encoding}
}

// init lazily loads the encoding (may download data on first use).
func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens returns the exact token count for text.
func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Model returns the model name the tokenizer was built for.
func (t *Tiktoken) Model() string { return t.model }

// ForModel returns a Tiktoken tokenizer when the encoding loads, otherwise
// the heuristic Estimator. Callers always get a working Tokenizer.
func ForModel(model string) Tokenizer {
	t := NewTiktoken(model)
	if err := t.init(); err != nil {
		return NewEstimator(model)
	}
	return t
}
