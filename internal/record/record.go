// Package record provides loosely typed access to JSON objects returned by the
// GitHub API. Every field lookup may miss; callers get (value, ok) pairs.
package record

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/starford/octoscope/internal/apperr"
)

// Record is a single JSON object (a user or a repository).
type Record struct {
	raw gjson.Result
}

// New wraps an already parsed value. Non-objects are a decode error.
func New(v gjson.Result) (Record, error) {
	if !v.IsObject() {
		return Record{}, apperr.Decode("record", fmt.Errorf("expected object, got %s", v.Type))
	}
	return Record{raw: v}, nil
}

// Parse decodes a JSON object from data.
func Parse(data []byte) (Record, error) {
	if !gjson.ValidBytes(data) {
		return Record{}, apperr.Decode("record", fmt.Errorf("invalid json"))
	}
	return New(gjson.ParseBytes(data))
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Record {
	r, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return r
}

func (r Record) field(name string) gjson.Result {
	return r.raw.Get(gjson.Escape(name))
}

// Has reports whether the field is present and not null.
func (r Record) Has(name string) bool {
	f := r.field(name)
	return f.Exists() && f.Type != gjson.Null
}

// String returns a string field. Numbers and other types do not coerce.
func (r Record) String(name string) (string, bool) {
	f := r.field(name)
	if f.Type != gjson.String {
		return "", false
	}
	return f.Str, true
}

// Int returns an integral numeric field.
func (r Record) Int(name string) (int64, bool) {
	f := r.field(name)
	if f.Type != gjson.Number {
		return 0, false
	}
	return f.Int(), true
}

// Value returns the field decoded into Go values (string, float64, bool,
// map[string]any, []any).
func (r Record) Value(name string) (any, bool) {
	if !r.Has(name) {
		return nil, false
	}
	return r.field(name).Value(), true
}

// Text renders a scalar field for display regardless of its JSON type,
// the way counts such as followers or forks_count are shown.
func (r Record) Text(name string) (string, bool) {
	f := r.field(name)
	switch f.Type {
	case gjson.String:
		return f.Str, true
	case gjson.Number, gjson.True, gjson.False:
		return f.Raw, true
	default:
		return "", false
	}
}

// ID returns the record identifier as a string. GitHub ids are numeric but
// string ids are accepted too.
func (r Record) ID() (string, bool) {
	f := r.field("id")
	switch f.Type {
	case gjson.Number:
		return strconv.FormatInt(f.Int(), 10), true
	case gjson.String:
		return f.Str, f.Str != ""
	default:
		return "", false
	}
}

// Raw returns the record's JSON text.
func (r Record) Raw() string { return r.raw.Raw }

// MarshalJSON emits the record unchanged.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.raw.Raw == "" {
		return []byte("null"), nil
	}
	return []byte(r.raw.Raw), nil
}
