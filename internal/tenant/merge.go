package tenant

// Merge deep-merges override onto base and returns a new mapping.
//
// Nested mappings merge key by key. Any other override value, including lists,
// replaces the base value wholesale. The result shares no maps or slices with
// either input, so callers may mutate it freely.
func Merge(base, override map[string]any) map[string]any {
	out := cloneMap(base)
	for k, v := range override {
		if vm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = Merge(bm, vm)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Config:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
