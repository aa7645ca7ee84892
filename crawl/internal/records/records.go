// Package records is the extracted-item model shared by extractors, history
// and the duplicate detector.
//
// Extractor output crosses one boundary, Parse, which turns whatever the
// extractor produced into either a record list or ErrFormat. Nothing past
// that boundary inspects shapes again.
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrFormat is returned when extractor output is neither a list of objects
// nor a single object.
var ErrFormat = errors.New("records: unexpected format")

// Record is one extracted item. Common keys are title, date, link, summary
// and source, but extractors may add any JSON-compatible field.
type Record map[string]any

// String returns the value of key as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Parse normalizes decoded JSON (the result of json.Unmarshal into any):
// a list of objects is returned as is, a single object becomes a one-element
// list, anything else is ErrFormat.
func Parse(v any) ([]Record, error) {
	switch t := v.(type) {
	case []any:
		out := make([]Record, 0, len(t))
		for i, el := range t {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T, not an object", ErrFormat, i, el)
			}
			out = append(out, Record(m))
		}
		return out, nil
	case map[string]any:
		return []Record{Record(t)}, nil
	case []Record:
		return t, nil
	case Record:
		return []Record{t}, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrFormat, v)
	}
}

// ParseJSON decodes raw JSON and applies Parse.
func ParseJSON(data []byte) ([]Record, error) {
	var v any
	if err := json.Unmarshal(bytes.TrimSpace(data), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return Parse(v)
}

// Encode serializes records for storage. A nil slice encodes as "[]".
func Encode(rs []Record) (string, error) {
	if rs == nil {
		rs = []Record{}
	}
	b, err := json.Marshal(rs)
	if err != nil {
		return "", fmt.Errorf("records: encode: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored payload. Empty input decodes to an empty list.
func Decode(payload string) ([]Record, error) {
	if strings.TrimSpace(payload) == "" {
		return []Record{}, nil
	}
	return ParseJSON([]byte(payload))
}

// Canonical returns an encoding of rs that is independent of key order
// within each record and of record order within the set. Values are
// round-tripped through JSON first so a record built in memory and the same
// record read back from storage encode identically.
func Canonical(rs []Record) (string, error) {
	items := make([]string, 0, len(rs))
	for _, r := range rs {
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("records: canonical: %w", err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return "", fmt.Errorf("records: canonical: %w", err)
		}
		// encoding/json writes map keys sorted at every depth.
		b, err = json.Marshal(generic)
		if err != nil {
			return "", fmt.Errorf("records: canonical: %w", err)
		}
		items = append(items, string(b))
	}
	sort.Strings(items)
	return "[" + strings.Join(items, ",") + "]", nil
}

// Equal reports whether a and b have the same canonical form. Records that
// cannot be encoded are never equal.
func Equal(a, b []Record) bool {
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}
