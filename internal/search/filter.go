package search

import (
	"strings"
	"unicode/utf8"

	"github.com/starford/octoscope/internal/record"
)

// MinLength is the query length, in runes, that triggers a remote search.
const MinLength = 3

// Filter keeps the records whose field contains text, ignoring case.
// Text shorter than MinLength leaves the set unfiltered. Records without
// the field never match. The input set is not modified.
func Filter(set record.Set, field, text string) record.Set {
	if utf8.RuneCountInString(text) < MinLength {
		return set.Clone()
	}
	needle := strings.ToLower(text)
	out := record.Set{}
	for _, r := range set {
		v, ok := r.Text(field)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(v), needle) {
			out = append(out, r)
		}
	}
	return out
}

// extends reports whether text continues query, ignoring case.
func extends(text, query string) bool {
	tr, qr := []rune(text), []rune(query)
	if len(tr) < len(qr) {
		return false
	}
	return strings.EqualFold(string(tr[:len(qr)]), query)
}
