package diff

// Apply reconstructs the new state by applying a delta to the old state.
// The base mapping is not modified. Apply(a, Compute(a, b)) == b for any
// two mappings a and b, which the tests exercise as the round-trip
// property.
func Apply(base map[string]interface{}, delta Delta) (map[string]interface{}, error) {
	norm, err := Normalize(base)
	if err != nil {
		return nil, err
	}
	out := deepCopy(norm)

	for _, removal := range delta.Removed {
		deletePath(out, splitPath(removal.Path))
	}
	for _, addition := range delta.Added {
		setPath(out, splitPath(addition.Path), addition.Value)
	}
	for _, change := range delta.Changed {
		setPath(out, splitPath(change.Path), change.New)
	}

	return out, nil
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]interface{}); ok {
			out[k] = deepCopy(child)
			continue
		}
		out[k] = v
	}
	return out
}

func setPath(m map[string]interface{}, segments []string, value interface{}) {
	for i, seg := range segments {
		if i == len(segments)-1 {
			m[seg] = value
			return
		}
		child, ok := m[seg].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			m[seg] = child
		}
		m = child
	}
}

func deletePath(m map[string]interface{}, segments []string) {
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(m, seg)
			return
		}
		child, ok := m[seg].(map[string]interface{})
		if !ok {
			return
		}
		m = child
	}
}
