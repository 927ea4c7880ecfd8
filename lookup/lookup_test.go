package lookup

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/addrcheck/address"
)

const fullQuery = `
	SELECT StreetPrefix, StreetName, BuildingNumber, City, PostalCode,
	       Commune, District, Province
	FROM addresses
	WHERE StreetName = @StreetName
	  AND StreetPrefix = @StreetPrefix
	  AND BuildingNumber = @BuildingNumber
	  AND City = @City
	  AND PostalCode = @PostalCode
	ORDER BY id`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open(DriverSQLite, filepath.Join(t.TempDir(), "ref.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE addresses (
			id INTEGER PRIMARY KEY,
			StreetPrefix TEXT, StreetName TEXT, BuildingNumber INTEGER,
			City TEXT, PostalCode TEXT, Commune TEXT, District TEXT,
			Province TEXT
		);
		INSERT INTO addresses VALUES
			(1, 'ul.', 'Długa', 5, 'Gdańsk', '80-827', 'Gdańsk', 'Gdańsk', 'pomorskie'),
			(2, 'ul.', 'Długa', 5, 'Gdańsk', '80-827', 'Gdańsk', 'Gdańsk', NULL),
			(3, 'al.', 'Jerozolimskie', 1, 'Warszawa', '00-001', 'Warszawa', 'Warszawa', 'mazowieckie');
	`)
	require.NoError(t, err)

	return db
}

func newTestStore(t *testing.T, query string, mapping map[address.FieldName]string) *Store {
	t.Helper()

	s, err := New(openTestDB(t), Config{
		Driver:       DriverSQLite,
		Query:        query,
		FieldMapping: mapping,
	}, nil)
	require.NoError(t, err)

	return s
}

var dlugaRow = address.Row{
	Index:          2,
	StreetPrefix:   "ul.",
	StreetName:     "Długa",
	BuildingNumber: "5",
	City:           "Gdańsk",
	PostalCode:     "80-827",
}

func TestProcessReturnsAllMatches(t *testing.T) {
	s := newTestStore(t, fullQuery, nil)

	o := s.Process(context.Background(), dlugaRow)

	require.True(t, o.OK(), "error: %v", o.Err)
	require.Len(t, o.Records, 2)
	assert.Equal(t, address.Value("pomorskie"), o.Records[0].Province)
	assert.Equal(t, address.Value("5"), o.Records[0].BuildingNumber)
	assert.Equal(t, address.Value(""), o.Records[1].Province, "NULL reads as empty")
	assert.Empty(t, s.MissingColumns())
}

func TestProcessNoMatchesIsSuccess(t *testing.T) {
	s := newTestStore(t, fullQuery, nil)

	row := dlugaRow
	row.City = "Sopot"

	o := s.Process(context.Background(), row)

	assert.True(t, o.OK())
	assert.Empty(t, o.Records)
}

func TestProcessMissingColumnIsAbsent(t *testing.T) {
	query := `
		SELECT StreetPrefix, StreetName, BuildingNumber, City, PostalCode,
		       Commune, District
		FROM addresses
		WHERE City = @City AND StreetName = @StreetName
		  AND StreetPrefix = @StreetPrefix AND BuildingNumber = @BuildingNumber
		  AND PostalCode = @PostalCode`

	s := newTestStore(t, query, nil)

	for i := 0; i < 3; i++ {
		o := s.Process(context.Background(), dlugaRow)
		require.True(t, o.OK(), "error: %v", o.Err)
		require.Len(t, o.Records, 2)

		for _, rec := range o.Records {
			assert.True(t, rec.Province.IsAbsent())
			assert.NotEqual(t, address.Value(""), rec.Province)
			assert.False(t, rec.District.IsAbsent())
		}
	}

	assert.Equal(t, []address.FieldName{address.Province}, s.MissingColumns())
}

func TestProcessQueryErrorIsEmpty(t *testing.T) {
	s := newTestStore(t, `SELECT * FROM nowhere WHERE City = @City`, nil)

	o := s.Process(context.Background(), dlugaRow)

	assert.False(t, o.OK())
	assert.Equal(t, address.KindQuery, o.Kind)
	assert.Error(t, o.Err)
	assert.Empty(t, o.Records)
}

func TestProcessTimeout(t *testing.T) {
	s := newTestStore(t, fullQuery, nil)
	s.timeout = time.Nanosecond

	o := s.Process(context.Background(), dlugaRow)

	assert.False(t, o.OK())
	assert.Contains(t, []address.ErrorKind{address.KindTimeout, address.KindQuery}, o.Kind)
}

func TestParametersAreNotSpliced(t *testing.T) {
	s := newTestStore(t, fullQuery, nil)

	row := dlugaRow
	row.City = "x' OR '1'='1"

	o := s.Process(context.Background(), row)

	require.True(t, o.OK())
	assert.Empty(t, o.Records)
}

func TestResolveFieldMapping(t *testing.T) {
	s := newTestStore(t, fullQuery, map[address.FieldName]string{
		address.City:       "Miasto",
		address.PostalCode: "KodNieIstnieje",
	})

	row := dlugaRow
	row.City = "Gdansk"
	row.Columns = map[string]string{"Miasto": "Gdańsk"}

	values := s.Resolve(row)

	assert.Equal(t, "Gdańsk", values[address.City])
	assert.Equal(t, "80-827", values[address.PostalCode], "unresolvable override falls back")
	assert.Equal(t, "Długa", values[address.StreetName])

	o := s.Process(context.Background(), row)
	require.True(t, o.OK())
	assert.Len(t, o.Records, 2)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", Query: fullQuery}, nil)
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")

	s, err := Open(context.Background(), Config{
		Driver:       DriverSQLite,
		DSN:          path,
		Query: `SELECT @City AS City
			WHERE @StreetName IS NOT NULL AND @StreetPrefix IS NOT NULL
			  AND @BuildingNumber IS NOT NULL AND @PostalCode IS NOT NULL`,
		MaxOpenConns: 2,
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	o := s.Process(context.Background(), dlugaRow)
	require.True(t, o.OK(), "error: %v", o.Err)
	require.Len(t, o.Records, 1)
	assert.Equal(t, address.Value("Gdańsk"), o.Records[0].City)
	assert.True(t, o.Records[0].Province.IsAbsent())
}
