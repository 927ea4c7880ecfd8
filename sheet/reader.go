// Package sheet reads labeled test rows from CSV/TSV files and writes the
// processed results back out next to them.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/verify"
)

// expectedPrefix is prepended to a field name to form its default
// expected-value header.
const expectedPrefix = "Expected"

// nullMarker is sanitized to an empty cell on input.
const nullMarker = "null"

// Columns overrides the header names used for request and expected fields.
type Columns struct {
	Request  map[address.FieldName]string
	Expected map[address.FieldName]string
}

// Schema maps fields to column positions. It is resolved once from the
// header row.
type Schema struct {
	Header []string

	// Request and Expected hold the column index of each field found.
	Request  map[address.FieldName]int
	Expected map[address.FieldName]int

	// MissingRequest lists request fields without a column, in request
	// order. Their values are sent empty.
	MissingRequest []address.FieldName
}

// Tracked returns the fields with an expected column, in output order.
func (s Schema) Tracked() []address.FieldName {
	var out []address.FieldName
	for _, f := range address.OutputFields {
		if _, ok := s.Expected[f]; ok {
			out = append(out, f)
		}
	}

	return out
}

// Sheet is a loaded test file.
type Sheet struct {
	Schema Schema

	// Rows and Expected are parallel: Expected[i] labels Rows[i].
	Rows     []address.Row
	Expected []verify.Expected

	// Cells keeps each row's original cells for the output file.
	Cells [][]string
}

// Comma returns the delimiter used for path: tab for .tsv, comma
// otherwise.
func Comma(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}

	return ','
}

// Read loads a CSV or TSV test file.
func Read(path string, cols Columns) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	s, err := Parse(f, Comma(path), cols)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	return s, nil
}

// Parse reads delimited rows from r. The first row is the header. A row's
// index is the source line its record starts on, so the first data row is 2
// and quoted cells spanning several lines do not shift later rows. Empty
// lines and rows of empty cells are skipped.
func Parse(r io.Reader, comma rune, cols Columns) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}

		return nil, fmt.Errorf("read header: %w", err)
	}

	for i, cell := range header {
		header[i] = cleanCell(cell)
	}

	schema, err := ResolveSchema(header, cols)
	if err != nil {
		return nil, err
	}

	s := &Sheet{Schema: schema}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		line, _ := reader.FieldPos(0)

		cells := make([]string, len(record))
		blank := true

		for i, cell := range record {
			cells[i] = sanitize(cell)
			if cells[i] != "" {
				blank = false
			}
		}

		if blank {
			continue
		}

		row, expected := schema.row(line, cells)
		s.Rows = append(s.Rows, row)
		s.Expected = append(s.Expected, expected)
		s.Cells = append(s.Cells, cells)
	}

	return s, nil
}

// ResolveSchema locates every field in header. Overrides must exist;
// defaults are matched case-insensitively. At least one request field must
// be present.
func ResolveSchema(header []string, cols Columns) (Schema, error) {
	schema := Schema{
		Header:   header,
		Request:  make(map[address.FieldName]int),
		Expected: make(map[address.FieldName]int),
	}

	for _, f := range address.RequestFields {
		idx, err := pickColumn(header, cols.Request[f], string(f))
		if err != nil {
			return Schema{}, fmt.Errorf("request column for %s: %w", f, err)
		}

		if idx < 0 {
			schema.MissingRequest = append(schema.MissingRequest, f)

			continue
		}

		schema.Request[f] = idx
	}

	if len(schema.Request) == 0 {
		return Schema{}, errors.New("no request columns found in header")
	}

	for _, f := range address.OutputFields {
		idx, err := pickColumn(header, cols.Expected[f], expectedPrefix+string(f))
		if err != nil {
			return Schema{}, fmt.Errorf("expected column for %s: %w", f, err)
		}

		if idx >= 0 {
			schema.Expected[f] = idx
		}
	}

	return schema, nil
}

func (s Schema) row(line int, cells []string) (address.Row, verify.Expected) {
	row := address.Row{
		Index:   line,
		Columns: make(map[string]string, len(s.Header)),
		Header:  s.Header,
	}

	for i, name := range s.Header {
		if _, dup := row.Columns[name]; name != "" && !dup {
			row.Columns[name] = cell(cells, i)
		}
	}

	for f, idx := range s.Request {
		v := cell(cells, idx)

		switch f {
		case address.StreetName:
			row.StreetName = v
		case address.StreetPrefix:
			row.StreetPrefix = v
		case address.BuildingNumber:
			row.BuildingNumber = v
		case address.City:
			row.City = v
		case address.PostalCode:
			row.PostalCode = v
		}
	}

	expected := make(verify.Expected, len(s.Expected))
	for f, idx := range s.Expected {
		expected[f] = cell(cells, idx)
	}

	return row, expected
}

func pickColumn(header []string, explicit, fallback string) (int, error) {
	if name := strings.TrimSpace(explicit); name != "" {
		idx := findColumn(header, name)
		if idx < 0 {
			return -1, fmt.Errorf("column %q not found", name)
		}

		return idx, nil
	}

	return findColumn(header, fallback), nil
}

func findColumn(header []string, name string) int {
	for i, col := range header {
		if strings.EqualFold(col, name) {
			return i
		}
	}

	return -1
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}

	return cells[idx]
}

func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "\ufeff")

	return strings.TrimSpace(v)
}

func sanitize(v string) string {
	v = cleanCell(v)
	if strings.EqualFold(v, nullMarker) {
		return ""
	}

	return v
}
