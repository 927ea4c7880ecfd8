// Package verify reassembles dispatched outcomes in row order and checks
// them against the expected values of each test row.
package verify

import (
	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/dispatch"
)

// NormalizedRow is the output slot of one row in a normalize run. Record
// is nil when the row is left blank.
type NormalizedRow struct {
	Index      int
	Record     *address.Record
	Confidence float64
	Kind       address.ErrorKind
}

// NormalizeLayout places each successful record whose confidence reaches
// threshold. Rows below the threshold or without a result stay blank.
func NormalizeLayout(entries []dispatch.Entry, threshold float64) []NormalizedRow {
	out := make([]NormalizedRow, len(entries))

	for i, e := range entries {
		out[i] = NormalizedRow{
			Index:      e.Index,
			Confidence: e.Outcome.Confidence,
			Kind:       e.Outcome.Kind,
		}

		if !e.Outcome.OK() || len(e.Outcome.Records) == 0 {
			continue
		}

		if e.Outcome.Confidence < threshold {
			continue
		}

		rec := e.Outcome.Records[0]
		out[i].Record = &rec
	}

	return out
}

// LookupRow is the output slot of one row in a lookup run. Blocks has one
// element per result block; a nil block is blank.
type LookupRow struct {
	Index  int
	Blocks []*address.Record
	Kind   address.ErrorKind
}

// Records returns the row's non-blank blocks.
func (r LookupRow) Records() []address.Record {
	var out []address.Record
	for _, b := range r.Blocks {
		if b != nil {
			out = append(out, *b)
		}
	}

	return out
}

// LookupLayout lays lookup results out in fixed-width blocks. The block
// count is the largest record count of any row; rows with fewer records
// leave their remaining blocks blank.
func LookupLayout(entries []dispatch.Entry) (rows []LookupRow, maxRecords int) {
	for _, e := range entries {
		if e.Outcome.OK() && len(e.Outcome.Records) > maxRecords {
			maxRecords = len(e.Outcome.Records)
		}
	}

	rows = make([]LookupRow, len(entries))

	for i, e := range entries {
		rows[i] = LookupRow{
			Index:  e.Index,
			Blocks: make([]*address.Record, maxRecords),
			Kind:   e.Outcome.Kind,
		}

		if !e.Outcome.OK() {
			continue
		}

		for j := range e.Outcome.Records {
			rec := e.Outcome.Records[j]
			rows[i].Blocks[j] = &rec
		}
	}

	return rows, maxRecords
}
