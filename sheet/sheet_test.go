package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/verify"
)

const fixture = "\ufeffID,streetname,StreetPrefix,BuildingNumber,City,PostalCode,ExpectedCity,ExpectedProvince\n" +
	"1,Długa,ul.,5,Gdańsk,80-827,Gdańsk,pomorskie\n" +
	",,,,,,,\n" +
	"3, Marszałkowska ,ul.,1,Warszawa,00-624,null,NULL\n" +
	"4,Krótka\n"

func parseFixture(t *testing.T) *Sheet {
	t.Helper()

	s, err := Parse(strings.NewReader(fixture), ',', Columns{})
	require.NoError(t, err)

	return s
}

func TestParse(t *testing.T) {
	s := parseFixture(t)

	assert.Equal(t, "ID", s.Schema.Header[0], "BOM is stripped")
	assert.Empty(t, s.Schema.MissingRequest)
	assert.Equal(t, []address.FieldName{address.City, address.Province}, s.Schema.Tracked())

	require.Len(t, s.Rows, 3)
	assert.Equal(t, []int{2, 4, 5}, []int{s.Rows[0].Index, s.Rows[1].Index, s.Rows[2].Index})

	first := s.Rows[0]
	assert.Equal(t, "Długa", first.StreetName)
	assert.Equal(t, "80-827", first.PostalCode)

	id, ok := first.Column("id")
	require.True(t, ok)
	assert.Equal(t, "1", id)

	assert.Equal(t, "Marszałkowska", s.Rows[1].StreetName)
	assert.Equal(t, verify.Expected{address.City: "", address.Province: ""}, s.Expected[1])

	assert.Equal(t, "Krótka", s.Rows[2].StreetName)
	assert.Empty(t, s.Rows[2].City, "short rows read as empty")
}

func TestParseIndicesFollowSourceLines(t *testing.T) {
	data := "StreetName,City,Note\n" +
		"Długa,Gdańsk,\"first\nsecond\"\n" +
		"\n" +
		"Krótka,Gdynia,\n"

	s, err := Parse(strings.NewReader(data), ',', Columns{})
	require.NoError(t, err)

	require.Len(t, s.Rows, 2)
	assert.Equal(t, 2, s.Rows[0].Index)
	assert.Equal(t, 5, s.Rows[1].Index, "multi-line cell and empty line keep line numbers")
	assert.Equal(t, "Gdynia", s.Rows[1].City)
}

func TestParseColumnOverrides(t *testing.T) {
	data := "Ulica,Miasto,Oczekiwane miasto\nDługa,Gdańsk,Gdańsk\n"

	s, err := Parse(strings.NewReader(data), ',', Columns{
		Request:  map[address.FieldName]string{address.StreetName: "Ulica", address.City: "miasto"},
		Expected: map[address.FieldName]string{address.City: "Oczekiwane miasto"},
	})
	require.NoError(t, err)

	assert.Equal(t, []address.FieldName{
		address.StreetPrefix, address.BuildingNumber, address.PostalCode,
	}, s.Schema.MissingRequest)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, "Gdańsk", s.Rows[0].City)
	assert.Equal(t, verify.Expected{address.City: "Gdańsk"}, s.Expected[0])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader(""), ',', Columns{})
	assert.ErrorContains(t, err, "empty")

	_, err = Parse(strings.NewReader("A,B\n1,2\n"), ',', Columns{})
	assert.ErrorContains(t, err, "no request columns")

	_, err = Parse(strings.NewReader("City\nX\n"), ',', Columns{
		Request: map[address.FieldName]string{address.StreetName: "Ulica"},
	})
	assert.ErrorContains(t, err, "Ulica")
}

func TestReadTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.tsv")
	require.NoError(t, os.WriteFile(path, []byte("City\tExpectedCity\nŁódź\tLodz\n"), 0o600))

	s, err := Read(path, Columns{})
	require.NoError(t, err)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, "Łódź", s.Rows[0].City)
}

func readOutput(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()

	r := csv.NewReader(buf)
	r.FieldsPerRecord = -1

	out, err := r.ReadAll()
	require.NoError(t, err)

	return out
}

func TestWriteNormalized(t *testing.T) {
	s := parseFixture(t)

	rec := address.Record{City: address.Value("Gdańsk"), Province: address.Value("Pomorskie")}
	rows := []verify.NormalizedRow{
		{Index: 2, Record: &rec, Confidence: 0.93},
		{Index: 4, Confidence: 0.2},
		{Index: 5, Kind: address.KindTimeout},
	}

	verdicts := make([]verify.CorrectnessRow, len(s.Rows))
	for i, row := range s.Rows {
		var actual *address.Record
		if rows[i].Record != nil {
			actual = rows[i].Record
		}

		verdicts[i] = verify.Evaluate(row.Index, s.Expected[i], actual)
	}

	var buf bytes.Buffer
	require.NoError(t, s.WriteNormalized(&buf, ',', NormalizedResults{Rows: rows, Verdicts: verdicts}))

	out := readOutput(t, &buf)
	require.Len(t, out, 4)

	header := out[0]
	assert.Equal(t, "NormalizedStreetPrefix", header[8])
	assert.Equal(t, []string{ColumnConfidence, ColumnIsCorrect, "MatchCity", "MatchProvince"}, header[16:])

	assert.Equal(t, "Gdańsk", out[1][11])
	assert.Equal(t, []string{"0.93", "TRUE", "TRUE", "TRUE"}, out[1][16:])

	// Below threshold: blank block, confidence kept, blank compares equal
	// to the "null" expectations.
	assert.Empty(t, out[2][11])
	assert.Equal(t, []string{"0.2", "TRUE", "TRUE", "TRUE"}, out[2][16:])

	// Failed row: no confidence, evaluated as a blank slot.
	assert.Equal(t, "", out[3][16])
	assert.Equal(t, "TRUE", out[3][17])
}

func TestWriteLookupBlocks(t *testing.T) {
	s := parseFixture(t)

	first := address.Record{City: address.Value("Gdańsk"), Province: address.Absent}
	second := address.Record{City: address.Value("Gdynia"), Province: address.Absent}

	rows := []verify.LookupRow{
		{Index: 2, Blocks: []*address.Record{&first, &second}},
		{Index: 4, Blocks: []*address.Record{nil, nil}},
		{Index: 5, Blocks: []*address.Record{nil, nil}, Kind: address.KindQuery},
	}

	var buf bytes.Buffer
	require.NoError(t, s.WriteLookup(&buf, ',', LookupResults{Rows: rows, MaxRecords: 2}))

	out := readOutput(t, &buf)
	require.Len(t, out, 4)

	assert.Equal(t, "StreetPrefix_1", out[0][8])
	assert.Equal(t, "Province_2", out[0][23])
	assert.Equal(t, ColumnIsCorrect, out[0][24])

	assert.Equal(t, "Gdańsk", out[1][11])
	assert.Equal(t, MissingMarker, out[1][15])
	assert.Equal(t, "Gdynia", out[1][19])
	assert.Equal(t, MissingMarker, out[1][23])

	assert.Empty(t, out[2][11])
	assert.Empty(t, out[1][24], "rows without a verdict leave correctness blank")
}

func TestWriteFileUsesExtension(t *testing.T) {
	s := parseFixture(t)
	path := filepath.Join(t.TempDir(), "out.tsv")

	err := s.WriteFile(path, func(w io.Writer, comma rune) error {
		return s.WriteLookup(w, comma, LookupResults{})
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ID\tstreetname\t"))
}
