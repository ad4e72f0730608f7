package interfaces

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// OrderedValues is a string-keyed mapping that remembers insertion order.
//
// Property sources are serialized as JSON objects whose key order is
// significant to readers, so the mapping keeps keys in the order they were
// first set and encodes/decodes them in that order.
type OrderedValues struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewOrderedValues creates an empty mapping.
func NewOrderedValues() *OrderedValues {
	return &OrderedValues{m: orderedmap.New[string, any]()}
}

// OrderedValuesFromMap builds a mapping from the given keys, taking values from m.
// Keys missing from m are skipped.
func OrderedValuesFromMap(keys []string, m map[string]any) *OrderedValues {
	v := NewOrderedValues()
	for _, k := range keys {
		if val, ok := m[k]; ok {
			v.Set(k, val)
		}
	}
	return v
}

func (v *OrderedValues) init() {
	if v.m == nil {
		v.m = orderedmap.New[string, any]()
	}
}

// Set stores value under key. An existing key keeps its position.
func (v *OrderedValues) Set(key string, value any) {
	v.init()
	v.m.Set(key, value)
}

// Get returns the value stored under key.
func (v *OrderedValues) Get(key string) (any, bool) {
	if v == nil || v.m == nil {
		return nil, false
	}
	return v.m.Get(key)
}

// Has reports whether key is present.
func (v *OrderedValues) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Delete removes key if present.
func (v *OrderedValues) Delete(key string) {
	if v.m != nil {
		v.m.Delete(key)
	}
}

// Rename replaces oldKey with newKey at the same position and stores value under it.
// If newKey already exists elsewhere it is removed first.
func (v *OrderedValues) Rename(oldKey, newKey string, value any) {
	if !v.Has(oldKey) || oldKey == newKey {
		v.Set(newKey, value)
		return
	}
	v.m.Delete(newKey)
	v.m.Set(newKey, value)
	// both keys are present, so the move cannot fail
	_ = v.m.MoveBefore(newKey, oldKey)
	v.m.Delete(oldKey)
}

// Keys returns a copy of the keys in insertion order.
func (v *OrderedValues) Keys() []string {
	if v == nil || v.m == nil {
		return nil
	}
	out := make([]string, 0, v.m.Len())
	for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Len returns the number of entries.
func (v *OrderedValues) Len() int {
	if v == nil || v.m == nil {
		return 0
	}
	return v.m.Len()
}

// Clone returns a shallow copy. Values themselves are not copied.
func (v *OrderedValues) Clone() *OrderedValues {
	out := NewOrderedValues()
	if v == nil || v.m == nil {
		return out
	}
	for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
		out.m.Set(pair.Key, pair.Value)
	}
	return out
}

// Map returns the entries as a plain map, losing order.
func (v *OrderedValues) Map() map[string]any {
	out := make(map[string]any, v.Len())
	if v == nil || v.m == nil {
		return out
	}
	for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// MarshalJSON encodes the mapping as a JSON object in insertion order.
func (v *OrderedValues) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	v.init()
	return v.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the order in which keys appear.
// Nested values are decoded into plain Go values (map[string]any, []any, ...)
// and numbers into json.Number, so large integers keep their precision.
func (v *OrderedValues) UnmarshalJSON(data []byte) error {
	v.m = orderedmap.New[string, any]()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("ordered values: %w", err)
	}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		dec := json.NewDecoder(bytes.NewReader(pair.Value))
		dec.UseNumber()
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("ordered values: decoding %q: %w", pair.Key, err)
		}
		v.m.Set(pair.Key, val)
	}
	return nil
}
