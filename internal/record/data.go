package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Data is the opaque structured payload of a snapshot or event.
//
// Values are the JSON value set: nil, bool, string, json.Number (or Go
// numeric types before persistence), []any and map[string]any. The
// subsystem reads only the "id" key, declared relation keys and fields
// addressed by query filters.
type Data map[string]any

// ParseData decodes a JSON object, keeping numbers as json.Number.
func ParseData(raw []byte) (Data, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	if m == nil {
		return Data{}, nil
	}
	return Data(m), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving number precision.
func (d *Data) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseData(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (d Data) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return MarshalCanonical(d)
}

// ID returns the payload identifier, or "" if absent or not a scalar.
func (d Data) ID() string {
	return scalarString(d["id"])
}

// Get returns the value at a dotted path such as "price.amount".
func (d Data) Get(path string) (any, bool) {
	var cur any = map[string]any(d)
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

// Stubs returns the related-entity references held under key.
//
// A reference is either a single object or an array of objects; only
// objects carrying a scalar "id" are returned. Missing keys yield nil.
func (d Data) Stubs(key string) []Data {
	raw, ok := d[key]
	if !ok || raw == nil {
		return nil
	}

	var stubs []Data
	appendStub := func(v any) {
		m, ok := asMap(v)
		if !ok {
			return
		}
		stub := Data(m)
		if stub.ID() == "" {
			return
		}
		stubs = append(stubs, stub)
	}

	switch v := raw.(type) {
	case []any:
		for _, elem := range v {
			appendStub(elem)
		}
	case []Data:
		for _, elem := range v {
			appendStub(map[string]any(elem))
		}
	default:
		appendStub(v)
	}
	return stubs
}

// Select returns a shallow projection containing only the named top-level
// fields. The "id" field is always included. An empty field list returns a
// shallow copy of the whole payload.
func (d Data) Select(fields []string) Data {
	out := make(Data, len(fields)+1)
	if len(fields) == 0 {
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	if id, ok := d["id"]; ok {
		out["id"] = id
	}
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Normalize deep-copies v through its canonical encoding so numbers become
// json.Number and nested objects become map[string]any, whatever decoder
// (YAML, JSON, Go literals) produced them.
func Normalize(v map[string]any) (Data, error) {
	raw, err := MarshalCanonical(map[string]any(v))
	if err != nil {
		return nil, fmt.Errorf("normalize data: %w", err)
	}
	return ParseData(raw)
}

// scalarString renders string and numeric ids as strings.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// asMap accepts both map[string]any and Data.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Data:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
