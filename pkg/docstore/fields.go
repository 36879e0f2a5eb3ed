package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fields is the content of a document. Values are JSON-shaped: strings,
// float64, bool, nil, []interface{}, nested Fields or map[string]interface{},
// and time.Time as returned by Firestore.
type Fields map[string]interface{}

// FieldsOf converts v to Fields through its JSON encoding.
func FieldsOf(v interface{}) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return f, nil
}

// Decode fills v from f through its JSON encoding.
func (f Fields) Decode(v interface{}) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// Lookup returns the value at a dotted path.
func (f Fields) Lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(f)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// set assigns value at a dotted path, creating intermediate maps.
func (f Fields) set(path string, value interface{}) {
	parts := strings.Split(path, ".")
	m := map[string]interface{}(f)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = map[string]interface{}{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Fields:
		return map[string]interface{}(m), true
	default:
		return nil, false
	}
}

// resolveServerTimestamps returns a copy of v with every ServerTimestamp replaced by at.
func resolveServerTimestamps(v interface{}, at time.Time) interface{} {
	switch t := v.(type) {
	case serverTimestamp:
		return at
	case Fields:
		return Fields(resolveMap(t, at))
	case map[string]interface{}:
		return resolveMap(t, at)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = resolveServerTimestamps(e, at)
		}
		return out
	default:
		return v
	}
}

func resolveMap(m map[string]interface{}, at time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, e := range m {
		out[k] = resolveServerTimestamps(e, at)
	}
	return out
}
