package llm

import (
	"encoding/json"
	"strings"
)

// FirstChoiceText returns the content of the first choice, or "" when the
// response carries no choices.
func FirstChoiceText(resp *ChatResponse) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// DecodeJSONBlock unmarshals the first JSON object found in raw into v.
// Models frequently wrap structured output in markdown fences or prose;
// this strips fences and scans for the outermost balanced object. A failure
// to locate or decode an object returns *Error with ErrMalformedOutput so
// the caller can apply its malformed-result policy.
func DecodeJSONBlock(raw string, v any) error {
	cleaned := stripCodeFences(raw)

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return &Error{Code: ErrMalformedOutput, Message: "no JSON object in model output"}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(cleaned[start:i+1]), v); err != nil {
					return &Error{Code: ErrMalformedOutput, Message: "invalid JSON in model output: " + err.Error()}
				}
				return nil
			}
		}
	}
	return &Error{Code: ErrMalformedOutput, Message: "unbalanced JSON object in model output"}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
