// Package lookup implements the row processor backed by a parameterized
// query against the reference database.
package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/weiihann/addrcheck/address"
)

// Config configures a Store.
type Config struct {
	Driver string
	DSN    string
	Query  string

	// Timeout bounds a single query. Zero means no limit.
	Timeout time.Duration

	// MaxOpenConns caps the connection pool. Zero leaves the driver default.
	MaxOpenConns int

	// FieldMapping overrides the source column used for a request field.
	FieldMapping map[address.FieldName]string
}

// Store runs the lookup query for each row. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	query   compiledQuery
	timeout time.Duration
	mapping map[address.FieldName]string
	logger  *slog.Logger

	mu      sync.Mutex
	missing map[address.FieldName]struct{}
}

// Open connects to the database, verifies the connection and prepares the
// query for the driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s, err := New(db, cfg, logger)
	if err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Store, error) {
	q, err := compileQuery(cfg.Query, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		db:      db,
		query:   q,
		timeout: cfg.Timeout,
		mapping: cfg.FieldMapping,
		logger:  logger.With(slog.String("processor", "lookup")),
		missing: make(map[address.FieldName]struct{}),
	}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// MissingColumns returns the expected output columns that the query's
// result schema did not contain, in output order.
func (s *Store) MissingColumns() []address.FieldName {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]address.FieldName, 0, len(s.missing))
	for _, f := range address.OutputFields {
		if _, ok := s.missing[f]; ok {
			out = append(out, f)
		}
	}

	return out
}

// Resolve returns the value bound for each request field. An override
// names a source column; when it is absent from the row the native field
// is used.
func (s *Store) Resolve(row address.Row) map[address.FieldName]string {
	values := make(map[address.FieldName]string, len(address.RequestFields))

	for _, f := range address.RequestFields {
		values[f] = row.Request(f)

		source, ok := s.mapping[f]
		if !ok || source == "" {
			continue
		}

		if v, ok := row.Column(source); ok {
			values[f] = v
		}
	}

	return values
}

// Process runs the lookup for one row. Zero matching rows is a success
// with no records; any execution failure becomes an Empty outcome.
func (s *Store) Process(ctx context.Context, row address.Row) address.Outcome {
	records, err := s.Lookup(ctx, s.Resolve(row))
	if err != nil {
		kind := address.KindQuery
		if errors.Is(err, context.DeadlineExceeded) {
			kind = address.KindTimeout
		}

		s.logger.DebugContext(ctx, "lookup failed",
			slog.Int("row", row.Index),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)

		return address.Failed(kind, err)
	}

	return address.Success(0, records...)
}

// Lookup executes the query with the given parameter values.
func (s *Store) Lookup(
	ctx context.Context,
	values map[address.FieldName]string,
) ([]address.Record, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, s.query.text, s.query.args(values)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	layout := s.resolveLayout(ctx, columns)

	records := []address.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, len(columns), layout)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// resolveLayout maps each expected output field to its column position, or
// -1 when the result schema lacks it. Missing columns are logged once.
func (s *Store) resolveLayout(ctx context.Context, columns []string) map[address.FieldName]int {
	layout := make(map[address.FieldName]int, len(address.OutputFields))

	var fresh []string

	for _, f := range address.OutputFields {
		layout[f] = -1

		for i, c := range columns {
			if strings.EqualFold(strings.TrimSpace(c), string(f)) {
				layout[f] = i

				break
			}
		}

		if layout[f] >= 0 {
			continue
		}

		s.mu.Lock()
		if _, seen := s.missing[f]; !seen {
			s.missing[f] = struct{}{}
			fresh = append(fresh, string(f))
		}
		s.mu.Unlock()
	}

	if len(fresh) > 0 {
		sort.Strings(fresh)
		s.logger.WarnContext(ctx, "result schema is missing columns",
			slog.Any("columns", fresh),
		)
	}

	return layout
}

func scanRecord(rows *sql.Rows, width int, layout map[address.FieldName]int) (address.Record, error) {
	values := make([]any, width)
	ptrs := make([]any, width)

	for i := range values {
		ptrs[i] = &values[i]
	}

	if err := rows.Scan(ptrs...); err != nil {
		return address.Record{}, fmt.Errorf("scan row: %w", err)
	}

	var rec address.Record
	for _, f := range address.OutputFields {
		idx := layout[f]
		if idx < 0 {
			rec.Set(f, address.Absent)

			continue
		}

		rec.Set(f, address.Value(cellString(values[idx])))
	}

	return rec, nil
}

// cellString renders a scanned value. NULL becomes an empty string.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case time.Time:
		return x.Format(time.DateOnly)
	default:
		return fmt.Sprint(x)
	}
}
