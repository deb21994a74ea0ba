package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Payload is an ordered mapping from column header to cell value. Missing cells
// are kept as explicit nil values rather than being dropped.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload returns an empty payload with room for capacity columns.
func NewPayload(capacity int) Payload {
	if capacity < 0 {
		capacity = 0
	}
	return Payload{
		keys:   make([]string, 0, capacity),
		values: make(map[string]any, capacity),
	}
}

// PayloadFromMap builds a payload from an unordered map; keys are sorted.
func PayloadFromMap(m map[string]any) Payload {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	p := NewPayload(len(keys))
	for _, key := range keys {
		p.Set(key, m[key])
	}
	return p
}

// Set assigns value to key, appending the key if it is new.
func (p *Payload) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = NormalizeValue(value)
}

// Get returns the value stored for key.
func (p Payload) Get(key string) (any, bool) {
	value, ok := p.values[key]
	return value, ok
}

// Len returns the number of columns.
func (p Payload) Len() int {
	return len(p.keys)
}

// Keys returns the column names in order.
func (p Payload) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Map returns an unordered copy of the payload.
func (p Payload) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for key, value := range p.values {
		out[key] = value
	}
	return out
}

// Clone returns a deep enough copy for transforms to mutate safely.
func (p Payload) Clone() Payload {
	clone := NewPayload(len(p.keys))
	for _, key := range p.keys {
		clone.Set(key, p.values[key])
	}
	return clone
}

// Equal reports whether both payloads hold the same key/value pairs, ignoring order.
func (p Payload) Equal(other Payload) bool {
	if len(p.values) != len(other.values) {
		return false
	}
	left, err := p.Canonical()
	if err != nil {
		return false
	}
	right, err := other.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// Canonical encodes the payload with sorted keys so that key order never
// changes the output.
func (p Payload) Canonical() ([]byte, error) {
	return json.Marshal(p.Map())
}

// MarshalJSON encodes the payload as a JSON object preserving column order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", key, err)
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedValue, err := json.Marshal(p.values[key])
		if err != nil {
			return nil, fmt.Errorf("encode value for %q: %w", key, err)
		}
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping document key order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("decode payload: expected JSON object")
	}

	decoded := NewPayload(8)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode payload key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode payload: unexpected key token %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode payload value for %q: %w", key, err)
		}
		decoded.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	*p = decoded
	return nil
}

// ParsePayload decodes a serialized payload.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// NormalizeValue folds numeric representations onto int64/float64 so that
// values read back from JSON compare equal to the values that were written.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case nil, string, bool, int64:
		return v
	case float64:
		return normalizeFloat(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return v.String()
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return normalizeFloat(float64(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = NormalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = NormalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// InferScalar converts a formatted cell string into a typed scalar. Empty
// strings become nil; integers, decimals and TRUE/FALSE are typed; values with
// significant leading zeros stay strings.
func InferScalar(raw string) any {
	if raw == "" {
		return nil
	}
	if !numericPattern.MatchString(raw) {
		switch raw {
		case "TRUE":
			return true
		case "FALSE":
			return false
		}
		return raw
	}

	digits := strings.TrimLeft(raw, "+-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return raw
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if !strings.ContainsAny(raw, ".eE") {
		// Integer too large for int64; keep the digits intact.
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return raw
	}
	return f
}
