package diff

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ErrMalformedInput is returned when an input cannot be interpreted as an
// attribute mapping.
var ErrMalformedInput = errors.New("input is not a mapping-like structure")

// maxDepth bounds recursion into nested mappings. Below the bound, values
// are compared as opaque wholes.
const maxDepth = 32

// Addition records a key path present only in the new state
type Addition struct {
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// Removal records a key path present only in the old state
type Removal struct {
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// Modification records a key path whose value differs between states
type Modification struct {
	Path string      `json:"path"`
	Old  interface{} `json:"old"`
	New  interface{} `json:"new"`
}

// Delta is the canonical structural difference between two attribute
// mappings. All three slices are sorted lexicographically by path.
type Delta struct {
	Added   []Addition     `json:"added,omitempty"`
	Removed []Removal      `json:"removed,omitempty"`
	Changed []Modification `json:"changed,omitempty"`
}

// Empty reports whether the delta records no differences
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Normalize converts an arbitrary value into a JSON-shaped attribute
// mapping (string keys, values of type nil, bool, float64, string,
// []interface{}, or map[string]interface{}). Fails with ErrMalformedInput
// when the value is not an object.
func Normalize(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: value serializes to %s", ErrMalformedInput, jsonKind(raw))
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

func jsonKind(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "nothing"
	}
	switch trimmed[0] {
	case '[':
		return "an array"
	case '"':
		return "a string"
	case 'n':
		return "null"
	case 't', 'f':
		return "a boolean"
	default:
		return "a number"
	}
}

// Compute returns the structural delta from oldState to newState. Both
// inputs are normalized first, so map values may hold arbitrary
// JSON-serializable types. Pure: neither input is modified.
func Compute(oldState, newState map[string]interface{}) (Delta, error) {
	oldNorm, err := Normalize(oldState)
	if err != nil {
		return Delta{}, err
	}
	newNorm, err := Normalize(newState)
	if err != nil {
		return Delta{}, err
	}

	var d Delta
	walk(&d, "", oldNorm, newNorm, 0)

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Path < d.Added[j].Path })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Path < d.Removed[j].Path })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Path < d.Changed[j].Path })

	return d, nil
}

func walk(d *Delta, prefix string, oldMap, newMap map[string]interface{}, depth int) {
	for key, oldVal := range oldMap {
		path := joinPath(prefix, key)
		newVal, present := newMap[key]
		if !present {
			d.Removed = append(d.Removed, Removal{Path: path, Value: oldVal})
			continue
		}

		oldChild, oldIsMap := oldVal.(map[string]interface{})
		newChild, newIsMap := newVal.(map[string]interface{})
		if oldIsMap && newIsMap && depth < maxDepth {
			walk(d, path, oldChild, newChild, depth+1)
			continue
		}

		if !equalValues(oldVal, newVal, depth) {
			d.Changed = append(d.Changed, Modification{Path: path, Old: oldVal, New: newVal})
		}
	}

	for key, newVal := range newMap {
		if _, present := oldMap[key]; present {
			continue
		}
		d.Added = append(d.Added, Addition{Path: joinPath(prefix, key), Value: newVal})
	}
}

// equalValues compares two normalized values. Arrays compare as multisets
// so reordering container-valued attributes does not register as a change.
func equalValues(a, b interface{}, depth int) bool {
	if depth >= maxDepth {
		return reflect.DeepEqual(a, b)
	}

	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !equalValues(v, other, depth+1) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		matched := make([]bool, len(bv))
	outer:
		for _, elem := range av {
			for i, candidate := range bv {
				if !matched[i] && equalValues(elem, candidate, depth+1) {
					matched[i] = true
					continue outer
				}
			}
			return false
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// joinPath appends a key segment to a dot-separated path, escaping
// literal dots and backslashes in the segment.
func joinPath(prefix, key string) string {
	escaped := strings.ReplaceAll(key, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, ".", `\.`)
	if prefix == "" {
		return escaped
	}
	return prefix + "." + escaped
}

// splitPath splits a dot-separated path back into unescaped segments
func splitPath(path string) []string {
	var segments []string
	var current strings.Builder
	escaped := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case escaped:
			current.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '.':
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	segments = append(segments, current.String())
	return segments
}
