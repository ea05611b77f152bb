package relstore

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
)

// ImportStats reports the outcome of a table rebuild.
type ImportStats struct {
	Table   string `json:"table"`
	Rows    int    `json:"rows"`
	Invalid int    `json:"invalid"`
}

const maxImportLine = 1024 * 1024

// ImportRelations drops and recreates table from tab-separated accession pairs.
// Blank lines and lines starting with '#' are ignored; lines with fewer than
// two columns are counted as invalid. Callers must hold the exclusive lock.
func (s *Store) ImportRelations(ctx context.Context, table string, r io.Reader) (ImportStats, error) {
	if !IsRelationTable(table) {
		return ImportStats{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (id0, id1) VALUES (%s, %s)`, table, s.placeholder(1), s.placeholder(2))
	stats := ImportStats{Table: table}

	err := s.rebuild(ctx, relationTableDDL(table), relationIndexDDL(table), insert, r, func(fields []string) ([]any, bool) {
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			stats.Invalid++
			return nil, false
		}
		stats.Rows++
		return []any{fields[0], fields[1]}, true
	})
	if err != nil {
		return ImportStats{}, fmt.Errorf("import %s: %w", table, err)
	}

	s.present[table] = true
	return stats, nil
}

// ImportDates rebuilds the accession-date table from tab-separated rows of
// accession, created, modified and published. Empty or "-" dates are stored as NULL.
func (s *Store) ImportDates(ctx context.Context, r io.Reader) (ImportStats, error) {
	insert := fmt.Sprintf(`INSERT INTO %s (accession, date_created, date_modified, date_published) VALUES (%s, %s, %s, %s)`,
		TableAccessionDates, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	stats := ImportStats{Table: TableAccessionDates}
	seen := make(map[string]bool)

	err := s.rebuild(ctx, datesTableDDL(), nil, insert, r, func(fields []string) ([]any, bool) {
		if len(fields) == 0 || fields[0] == "" || fields[0] == "accession" {
			return nil, false
		}
		if seen[fields[0]] {
			stats.Invalid++
			return nil, false
		}
		seen[fields[0]] = true
		stats.Rows++
		args := []any{fields[0], nil, nil, nil}
		for i := 1; i < len(fields) && i < 4; i++ {
			if fields[i] != "" && fields[i] != "-" {
				args[i] = fields[i]
			}
		}
		return args, true
	})
	if err != nil {
		return ImportStats{}, fmt.Errorf("import %s: %w", TableAccessionDates, err)
	}

	s.present[TableAccessionDates] = true
	return stats, nil
}

func (s *Store) rebuild(ctx context.Context, ddl, indexes []string, insert string, r io.Reader, row func([]string) ([]any, bool)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := execAll(ctx, tx, ddl); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		args, ok := row(fields)
		if !ok {
			continue
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if err := execAll(ctx, tx, indexes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(q), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
