package record

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/starford/octoscope/internal/apperr"
)

// Set is an ordered list of records, unique by id.
type Set []Record

// ParseSet builds a Set from a JSON array of objects. Duplicate ids keep the
// first occurrence; records without an id are kept as-is.
func ParseSet(v gjson.Result) (Set, error) {
	if !v.IsArray() {
		return nil, apperr.Decode("record set", fmt.Errorf("expected array, got %s", v.Type))
	}
	items := v.Array()
	out := make(Set, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		r, err := New(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if id, ok := r.ID(); ok {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, r)
	}
	return out, nil
}

// Clone returns a shallow copy whose backing array is not shared.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Field collects a string field across the set, skipping records without it.
func (s Set) Field(name string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		if v, ok := r.String(name); ok {
			out = append(out, v)
		}
	}
	return out
}
