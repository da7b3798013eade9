package triage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var codeFenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// decodeObject parses src into v. If src is not directly valid JSON it tries
// the first well-formed object embedded in the text (models often wrap the
// JSON in prose or code fences).
func decodeObject(src string, v any) error {
	if err := json.Unmarshal([]byte(src), v); err == nil {
		return nil
	}

	extracted := extractObject(src)
	if extracted == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(extracted), v); err != nil {
		return fmt.Errorf("parsing extracted JSON: %w", err)
	}
	return nil
}

// extractObject returns the first balanced {...} in content, preferring the
// body of a code fence when one is present.
func extractObject(content string) string {
	if m := codeFenceRe.FindStringSubmatch(content); len(m) > 1 {
		if inner := firstBalancedObject(m[1]); inner != "" {
			return inner
		}
	}
	return firstBalancedObject(content)
}

func firstBalancedObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
