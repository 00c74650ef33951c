package flow

// Readers for a node's merged input map. Values originate from JSON
// decoding and from handler outputs, so numbers arrive as int, int64, or
// float64 depending on origin; these helpers accept all three.

// inputString returns the first non-empty string among the given keys.
func inputString(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// inputFloat reads a numeric input value.
func inputFloat(input map[string]any, key string) (float64, bool) {
	return numberValue(input[key])
}

// inputInt reads a numeric input value, truncating any fraction.
func inputInt(input map[string]any, key string) (int, bool) {
	f, ok := numberValue(input[key])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// inputSlice reads a list-valued input.
func inputSlice(input map[string]any, key string) ([]any, bool) {
	v, ok := input[key].([]any)
	return v, ok
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
