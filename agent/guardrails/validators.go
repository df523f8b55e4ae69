package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Result is a single validator's finding.
type Result struct {
	Valid bool `json:"valid"`
	// Tripwire escalates the finding to an outright block rather than a
	// clarification re-prompt.
	Tripwire bool   `json:"tripwire,omitempty"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Validator inspects raw input before any model sees it.
type Validator interface {
	// Validate inspects content; a nil error with Valid=false is a policy
	// finding, an error is an internal failure (the gate fails closed).
	Validate(ctx context.Context, content string) (*Result, error)
	// Name returns the validator name for audit records.
	Name() string
	// Priority orders execution; lower runs first.
	Priority() int
}

// Finding codes
const (
	CodeMaxLengthExceeded = "MAX_LENGTH_EXCEEDED"
	CodeBlockedKeyword    = "BLOCKED_KEYWORD"
	CodePIIDetected       = "PII_DETECTED"
	CodeInjectionDetected = "INJECTION_DETECTED"
)

func pass() *Result { return &Result{Valid: true} }

// MaxLengthValidator rejects oversized inputs before they burn tokens.
type MaxLengthValidator struct {
	maxLength int
	priority  int
}

// NewMaxLengthValidator creates a length validator; maxLength <= 0 means 10000.
func NewMaxLengthValidator(maxLength int) *MaxLengthValidator {
	if maxLength <= 0 {
		maxLength = 10000
	}
	return &MaxLengthValidator{maxLength: maxLength, priority: 10}
}

func (v *MaxLengthValidator) Name() string  { return "max_length" }
func (v *MaxLengthValidator) Priority() int { return v.priority }

func (v *MaxLengthValidator) Validate(_ context.Context, content string) (*Result, error) {
	if len(content) > v.maxLength {
		return &Result{
			Code:   CodeMaxLengthExceeded,
			Reason: fmt.Sprintf("input length %d exceeds limit %d", len(content), v.maxLength),
		}, nil
	}
	return pass(), nil
}

// BlockedKeywordValidator rejects inputs containing configured keywords.
type BlockedKeywordValidator struct {
	keywords []string
	priority int
}

// NewBlockedKeywordValidator creates a keyword validator. Matching is
// case-insensitive substring matching.
func NewBlockedKeywordValidator(keywords []string) *BlockedKeywordValidator {
	return &BlockedKeywordValidator{keywords: keywords, priority: 20}
}

func (v *BlockedKeywordValidator) Name() string  { return "blocked_keywords" }
func (v *BlockedKeywordValidator) Priority() int { return v.priority }

func (v *BlockedKeywordValidator) Validate(_ context.Context, content string) (*Result, error) {
	lower := strings.ToLower(content)
	for _, kw := range v.keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return &Result{
				Tripwire: true,
				Code:     CodeBlockedKeyword,
				Reason:   "blocked keyword: " + kw,
			}, nil
		}
	}
	return pass(), nil
}

// piiPatterns cover the identifiers a loan conversation must never accept
// in free text (applicants are asked for ranges and categories, not raw
// identifiers).
var piiPatterns = []struct {
	re          *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "social security number"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "payment card number"},
	{regexp.MustCompile(`(?i)\b(password|passwd)\s*[:=]\s*\S+`), "credential"},
}

// PIIDetector trips on personal identifiers in raw input.
type PIIDetector struct {
	priority int
}

// NewPIIDetector creates a PII detector.
func NewPIIDetector() *PIIDetector { return &PIIDetector{priority: 30} }

func (v *PIIDetector) Name() string  { return "pii_detector" }
func (v *PIIDetector) Priority() int { return v.priority }

func (v *PIIDetector) Validate(_ context.Context, content string) (*Result, error) {
	for _, p := range piiPatterns {
		if p.re.MatchString(content) {
			return &Result{
				Tripwire: true,
				Code:     CodePIIDetected,
				Reason:   "detected " + p.description,
			}, nil
		}
	}
	return pass(), nil
}

// injectionPatterns detect attempts to override or impersonate agent roles.
var injectionPatterns = []struct {
	re          *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`), "instruction override"},
	{regexp.MustCompile(`(?i)disregard\s+(your|the)\s+(instructions|guidelines|rules)`), "instruction override"},
	{regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`), "role reassignment"},
	{regexp.MustCompile(`(?i)(reveal|print|show)\s+(your|the)\s+system\s+prompt`), "prompt exfiltration"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s+`), "impersonation"},
	{regexp.MustCompile(`(?i)act\s+as\s+(the\s+)?(system|developer|administrator|evaluator\s+agent)`), "impersonation"},
}

// InjectionDetector trips on prompt-injection and role-override attempts.
type InjectionDetector struct {
	priority int
}

// NewInjectionDetector creates an injection detector.
func NewInjectionDetector() *InjectionDetector { return &InjectionDetector{priority: 40} }

func (v *InjectionDetector) Name() string  { return "injection_detector" }
func (v *InjectionDetector) Priority() int { return v.priority }

func (v *InjectionDetector) Validate(_ context.Context, content string) (*Result, error) {
	for _, p := range injectionPatterns {
		if p.re.MatchString(content) {
			return &Result{
				Tripwire: true,
				Code:     CodeInjectionDetected,
				Reason:   "detected " + p.description,
			}, nil
		}
	}
	return pass(), nil
}
