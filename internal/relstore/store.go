package relstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrUnknownTable indicates a table name outside the allowlist
	ErrUnknownTable = errors.New("unknown relation table")

	// ErrUnsupportedDriver indicates a driver other than sqlite or postgres
	ErrUnsupportedDriver = errors.New("unsupported relation store driver")
)

// Edge is one stored accession pair.
type Edge struct {
	ID0 string
	ID1 string
}

// Dates holds the per-accession dates kept in the accession-date table.
type Dates struct {
	Created   string
	Modified  string
	Published string
}

// Options configures how a store is opened.
type Options struct {
	Driver   string
	DSN      string
	ReadOnly bool
}

// Store is a relation store over database/sql.
// Reads are safe for concurrent use; rebuilds must not overlap readers.
type Store struct {
	db      *sql.DB
	driver  string
	present map[string]bool
}

// Open opens a store and records which tables currently exist.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driverName, dsn, err := dataSource(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open relation store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping relation store: %w", err)
	}

	s := &Store{db: db, driver: opts.Driver}
	if err := s.loadTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dataSource(opts Options) (driverName, dsn string, err error) {
	switch opts.Driver {
	case DriverSQLite, "":
		if opts.DSN == "" {
			return "", "", errors.New("sqlite relation store requires a database path")
		}
		if strings.HasPrefix(opts.DSN, "file:") {
			return "sqlite3", opts.DSN, nil
		}
		params := sqlitePragmas
		if opts.ReadOnly {
			params = "mode=ro&_pragma=busy_timeout(5000)"
		}
		return "sqlite3", "file:" + opts.DSN + "?" + params, nil
	case DriverPostgres:
		return "pgx", opts.DSN, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedDriver, opts.Driver)
	}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests and maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) loadTables(ctx context.Context) error {
	query := `SELECT name FROM sqlite_master WHERE type = 'table'`
	if s.driver == DriverPostgres {
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("list relation tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list relation tables: %w", err)
	}
	s.present = present
	return nil
}

// HasTable reports whether the table existed when the store was opened.
func (s *Store) HasTable(table string) bool {
	return s.present[table]
}

// placeholder returns the n-th (1-based) bind parameter for the driver.
func (s *Store) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Lookup returns up to limit pairs where either column equals id.
// A table that was never populated yields no rows.
func (s *Store) Lookup(ctx context.Context, table, id string, limit int) ([]Edge, error) {
	if !IsRelationTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if !s.present[table] || limit <= 0 {
		return nil, nil
	}

	var query string
	var args []any
	if s.driver == DriverPostgres {
		query = fmt.Sprintf(`SELECT id0, id1 FROM %s WHERE id0 = $1 OR id1 = $1 LIMIT $2`, table)
		args = []any{id, limit}
	} else {
		query = fmt.Sprintf(`SELECT id0, id1 FROM %s WHERE id0 = ? OR id1 = ? LIMIT ?`, table)
		args = []any{id, id, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID0, &e.ID1); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	return edges, nil
}

// LookupDates returns the stored dates for an accession.
func (s *Store) LookupDates(ctx context.Context, accession string) (Dates, bool, error) {
	if !s.present[TableAccessionDates] {
		return Dates{}, false, nil
	}

	query := fmt.Sprintf(`SELECT date_created, date_modified, date_published FROM %s WHERE accession = %s`,
		TableAccessionDates, s.placeholder(1))

	var created, modified, published sql.NullString
	err := s.db.QueryRowContext(ctx, query, accession).Scan(&created, &modified, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return Dates{}, false, nil
	}
	if err != nil {
		return Dates{}, false, fmt.Errorf("lookup dates for %s: %w", accession, err)
	}

	return Dates{
		Created:   created.String,
		Modified:  modified.String,
		Published: published.String,
	}, true, nil
}
