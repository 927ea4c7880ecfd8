package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/verify"
)

// MissingMarker is written for fields the result source does not provide.
const MissingMarker = "#MISSING"

// Output column names.
const (
	ColumnConfidence = "Confidence"
	ColumnIsCorrect  = "IsCorrect"
	normalizedPrefix = "Normalized"
	matchPrefix      = "Match"
)

// NormalizedResults is the laid-out output of a normalize run.
type NormalizedResults struct {
	Rows     []verify.NormalizedRow
	Verdicts []verify.CorrectnessRow
}

// LookupResults is the laid-out output of a lookup run.
type LookupResults struct {
	Rows       []verify.LookupRow
	MaxRecords int
	Verdicts   []verify.CorrectnessRow
}

// WriteFile creates path and writes the sheet with the result columns
// produced by write.
func (s *Sheet) WriteFile(path string, write func(io.Writer, rune) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}

	if err := write(f, Comma(path)); err != nil {
		f.Close()

		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}

	return nil
}

// WriteNormalized writes the original columns, one normalized block with
// its confidence, then the correctness columns.
func (s *Sheet) WriteNormalized(w io.Writer, comma rune, res NormalizedResults) error {
	header := append([]string(nil), s.Schema.Header...)
	for _, f := range address.OutputFields {
		header = append(header, normalizedPrefix+string(f))
	}

	header = append(header, ColumnConfidence)

	byIndex := make(map[int]verify.NormalizedRow, len(res.Rows))
	for _, r := range res.Rows {
		byIndex[r.Index] = r
	}

	return s.write(w, comma, header, res.Verdicts, func(row address.Row) []string {
		r, ok := byIndex[row.Index]
		out := recordCells(nil)

		if !ok || r.Kind != address.KindNone {
			return append(out, "")
		}

		if r.Record != nil {
			out = recordCells(r.Record)
		}

		return append(out, strconv.FormatFloat(r.Confidence, 'f', -1, 64))
	})
}

// WriteLookup writes the original columns, MaxRecords result blocks named
// <Field>_<n>, then the correctness columns.
func (s *Sheet) WriteLookup(w io.Writer, comma rune, res LookupResults) error {
	header := append([]string(nil), s.Schema.Header...)
	for n := 1; n <= res.MaxRecords; n++ {
		for _, f := range address.OutputFields {
			header = append(header, fmt.Sprintf("%s_%d", f, n))
		}
	}

	byIndex := make(map[int]verify.LookupRow, len(res.Rows))
	for _, r := range res.Rows {
		byIndex[r.Index] = r
	}

	return s.write(w, comma, header, res.Verdicts, func(row address.Row) []string {
		r := byIndex[row.Index]
		out := make([]string, 0, res.MaxRecords*len(address.OutputFields))

		for n := range res.MaxRecords {
			var block *address.Record
			if n < len(r.Blocks) {
				block = r.Blocks[n]
			}

			out = append(out, recordCells(block)...)
		}

		return out
	})
}

func (s *Sheet) write(
	w io.Writer,
	comma rune,
	header []string,
	verdicts []verify.CorrectnessRow,
	results func(address.Row) []string,
) error {
	tracked := s.Schema.Tracked()

	header = append(header, ColumnIsCorrect)
	for _, f := range tracked {
		header = append(header, matchPrefix+string(f))
	}

	byIndex := make(map[int]verify.CorrectnessRow, len(verdicts))
	for _, v := range verdicts {
		byIndex[v.Index] = v
	}

	cw := csv.NewWriter(w)
	cw.Comma = comma

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	width := len(s.Schema.Header)

	for i, row := range s.Rows {
		record := make([]string, width, len(header))
		copy(record, s.Cells[i])

		record = append(record, results(row)...)

		v, ok := byIndex[row.Index]
		if !ok || len(tracked) == 0 {
			record = append(record, make([]string, 1+len(tracked))...)
		} else {
			record = append(record, boolCell(v.Correct))

			for _, f := range tracked {
				m, _ := v.Match(f)
				record = append(record, boolCell(m))
			}
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", row.Index, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// recordCells renders one block. A nil record is blank.
func recordCells(rec *address.Record) []string {
	out := make([]string, len(address.OutputFields))
	if rec == nil {
		return out
	}

	for i, f := range address.OutputFields {
		v := rec.Get(f)
		if v.IsAbsent() {
			out[i] = MissingMarker

			continue
		}

		out[i] = v.String()
	}

	return out
}

func boolCell(b bool) string {
	if b {
		return "TRUE"
	}

	return "FALSE"
}
