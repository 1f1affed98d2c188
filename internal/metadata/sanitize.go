package metadata

import (
	"math"
	"strings"
)

// Sanitize returns v with every NaN or infinite float replaced by nil, so
// the result always encodes as JSON. Maps and slices are copied.
func Sanitize(v any) any {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}

		return t
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return nil
		}

		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Sanitize(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}

		return out
	default:
		return v
	}
}

var nonFiniteTokens = []string{"-Infinity", "Infinity", "NaN"}

// replaceNonFinite rewrites the bare NaN, Infinity and -Infinity tokens
// Python's json module emits into null. Text inside string literals is
// left alone.
func replaceNonFinite(s string) string {
	if !strings.Contains(s, "NaN") && !strings.Contains(s, "Infinity") {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))

	inString := false
	escaped := false

	for i := 0; i < len(s); {
		c := s[i]

		if inString {
			sb.WriteByte(c)

			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			i++

			continue
		}

		if c == '"' {
			inString = true
			sb.WriteByte(c)
			i++

			continue
		}

		matched := false

		for _, tok := range nonFiniteTokens {
			if strings.HasPrefix(s[i:], tok) {
				sb.WriteString("null")
				i += len(tok)
				matched = true

				break
			}
		}

		if !matched {
			sb.WriteByte(c)
			i++
		}
	}

	return sb.String()
}
