package agents

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/docintel/internal/core"
)

const maxInputRunes = 120_000

// requireStrings fails on the first missing or blank field.
func requireStrings(input map[string]any, fields ...string) error {
	for _, f := range fields {
		v, ok := input[f]
		if !ok || v == nil {
			return core.NewValidationError(f, "is required")
		}
		s, ok := v.(string)
		if !ok {
			return core.NewValidationError(f, "must be a string")
		}
		if strings.TrimSpace(s) == "" {
			return core.NewValidationError(f, "must not be empty")
		}
	}
	return nil
}

func str(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

// option reads an optional enum field; absent means def.
func option(input map[string]any, key, def string, allowed map[string]int) (string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", core.NewValidationError(key, "must be a string")
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	if _, ok := allowed[s]; !ok {
		return "", core.NewValidationError(key, "unsupported value %q", s)
	}
	return s, nil
}

// clip bounds text sent to the model.
func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxInputRunes {
		return s
	}
	return string(r[:maxInputRunes]) + "\n[truncated]"
}

// budgets maps the length option to output tokens.
type budgets map[string]int

func (b budgets) get(length string) int { return b[length] }

var lengths = map[string]int{"brief": 0, "standard": 0, "detailed": 0}

func lengthOf(input map[string]any) (string, error) {
	return option(input, "length", "standard", lengths)
}

func stringList(input map[string]any, key string) ([]string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil, core.NewValidationError(fmt.Sprintf("%s[%d]", key, i), "must be a string")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, core.NewValidationError(key, "must be a list of strings")
	}
}
