// internal/draft/extract.go
package draft

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// extractJSON pulls the first JSON object out of model output. Code fences
// and surrounding prose are ignored, and trailing commas are tolerated.
func extractJSON(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
				lines = lines[:len(lines)-1]
			}
			text = strings.Join(lines, "\n")
		}
	}

	candidate := firstObject(text)
	if candidate == "" {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, false
		}
		candidate = text[start : end+1]
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, true
	}
	cleaned := trailingComma.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, true
	}
	return nil, false
}

// firstObject returns the first balanced {...} span, skipping braces inside
// string literals.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

func stringValue(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
