package verify

import (
	"strings"

	"github.com/weiihann/addrcheck/address"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// nullMarker is the literal a test sheet uses for "no value".
const nullMarker = "null"

// FieldMatch is the comparison of one expected/actual pair.
type FieldMatch struct {
	Field    address.FieldName `json:"field"`
	Expected string            `json:"expected"`
	Actual   address.Field     `json:"actual"`
	Match    bool              `json:"match"`
}

// CorrectnessRow is the verdict for one row.
type CorrectnessRow struct {
	Index   int          `json:"index"`
	Correct bool         `json:"correct"`
	Fields  []FieldMatch `json:"fields"`
}

// Match returns the verdict for field, if it was evaluated.
func (c CorrectnessRow) Match(field address.FieldName) (bool, bool) {
	for _, f := range c.Fields {
		if f.Field == field {
			return f.Match, true
		}
	}

	return false, false
}

// Expected holds the labeled values of one row, keyed by field. Only the
// fields present are evaluated.
type Expected map[address.FieldName]string

// Evaluate compares every tracked field of a row. The row is correct only
// if every pair matches; each pair's verdict is kept. A nil actual record
// is a blank output slot and compares as empty strings.
func Evaluate(index int, expected Expected, actual *address.Record) CorrectnessRow {
	row := CorrectnessRow{Index: index, Correct: true}

	for _, f := range address.OutputFields {
		want, tracked := expected[f]
		if !tracked {
			continue
		}

		got := address.Value("")
		if actual != nil {
			got = actual.Get(f)
		}

		m := FieldMatch{
			Field:    f,
			Expected: want,
			Actual:   got,
			Match:    Equal(want, got),
		}

		if !m.Match {
			row.Correct = false
		}

		row.Fields = append(row.Fields, m)
	}

	return row
}

// Equal compares an expected cell with an actual field. "null" and the
// empty string are equivalent; letters compare case-insensitively with
// Unicode folding. An Absent actual never matches.
func Equal(expected string, actual address.Field) bool {
	if actual.IsAbsent() {
		return false
	}

	return fold(expected) == fold(actual.String())
}

func fold(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, nullMarker) {
		return ""
	}

	return cases.Fold().String(norm.NFC.String(s))
}
