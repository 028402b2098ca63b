package causal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const excerptLen = 200

// stripCodeFences removes a leading ``` fence (with or without a language
// tag) and a trailing ``` fence.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop the language tag, if any, up to the first newline.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONBlock returns the outermost {...} block of s, or "" when there
// is none.
func extractJSONBlock(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// parseSteps decodes the model output into loosely-typed step records.
// A missing "steps" key yields an empty, non-nil list.
func parseSteps(raw string) ([]any, error) {
	cleaned := stripCodeFences(raw)

	var doc any
	err := json.Unmarshal([]byte(cleaned), &doc)
	if err != nil {
		block := extractJSONBlock(cleaned)
		if block == "" || block == cleaned {
			return nil, newParseError(raw, err)
		}
		if err2 := json.Unmarshal([]byte(block), &doc); err2 != nil {
			return nil, newParseError(raw, err)
		}
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, newParseError(raw, fmt.Errorf("top-level value is %s, want object", jsonKind(doc)))
	}

	rawSteps, present := obj["steps"]
	if !present || rawSteps == nil {
		return []any{}, nil
	}
	steps, ok := rawSteps.([]any)
	if !ok {
		return nil, newParseError(raw, errors.New(`"steps" is not an array`))
	}
	return steps, nil
}

func newParseError(raw string, cause error) *ParseError {
	return &ParseError{Excerpt: truncate(raw, excerptLen), Raw: raw, Cause: cause}
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
