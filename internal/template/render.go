// Package template substitutes {{variable}} placeholders in strings and in
// decoded config documents.
package template

import (
	"regexp"
)

// variablePattern matches {{variable}} placeholders and captures the name.
var variablePattern = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// Render substitutes {{variable}} placeholders in text. Unknown variables
// are left as-is.
func Render(text string, variables map[string]string) string {
	if len(variables) == 0 {
		return text
	}

	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-2]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}

// RenderValue returns a copy of a decoded JSON/YAML document with every
// string value rendered. Map keys and non-string scalars are untouched.
func RenderValue(v any, variables map[string]string) any {
	switch t := v.(type) {
	case string:
		return Render(t, variables)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = RenderValue(val, variables)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RenderValue(val, variables)
		}
		return out
	}
	return v
}
