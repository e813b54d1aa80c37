package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

const catalogDatabases = "_docpilot_databases"

// NewSQLiteOperator opens (or creates) a SQLite file with foreign keys
// enforced. SQLite has a single namespace, so databases are only recorded
// in a catalog table and collections share one table space.
func NewSQLiteOperator(ctx context.Context, path string, logger *slog.Logger) (*SQLOperator, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging SQLite: %w", err)
	}
	op, err := newSQLOperator(ctx, db, sqliteDialect{}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return op, nil
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) table(_, collectionID string) string { return quoteIdent(collectionID) }

func (sqliteDialect) catalog() string { return catalogCollections }

func (sqliteDialect) initCatalog(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + catalogDatabases + ` (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + catalogCollections + ` (
	database_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (database_id, id)
)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (sqliteDialect) databaseExists(ctx context.Context, db *sql.DB, databaseID string) (string, bool, error) {
	var name string
	err := db.QueryRowContext(ctx, "SELECT name FROM "+catalogDatabases+" WHERE id = ?", databaseID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (sqliteDialect) createDatabase(ctx context.Context, db *sql.DB, databaseID, name string) error {
	_, err := db.ExecContext(ctx, "INSERT INTO "+catalogDatabases+" (id, name) VALUES (?, ?)", databaseID, name)
	return err
}

func (sqliteDialect) tables(ctx context.Context, db *sql.DB, _ string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasPrefix(n, "sqlite_") || strings.HasPrefix(n, "_docpilot_") {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (sqliteDialect) columns(ctx context.Context, db *sql.DB, _, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (sqliteDialect) columnType(kind string, _ int, array bool) string {
	if array {
		return "TEXT"
	}
	switch kind {
	case "integer", "boolean":
		return "INTEGER"
	}
	return "TEXT"
}

// constraints expresses everything as CHECK clauses, since SQLite rejects
// NOT NULL without a default in ALTER TABLE ADD COLUMN.
func (sqliteDialect) constraints(col string, spec columnSpec) []string {
	var out []string
	if spec.required {
		out = append(out, fmt.Sprintf("CHECK (%s IS NOT NULL)", col))
	}
	if spec.array {
		return append(out, fmt.Sprintf("CHECK (%s IS NULL OR json_valid(%s))", col, col))
	}
	if spec.kind == "string" && spec.size > 0 {
		out = append(out, fmt.Sprintf("CHECK (length(%s) <= %d)", col, spec.size))
	}
	if spec.min != nil {
		out = append(out, fmt.Sprintf("CHECK (%s >= %d)", col, *spec.min))
	}
	if spec.max != nil {
		out = append(out, fmt.Sprintf("CHECK (%s <= %d)", col, *spec.max))
	}
	if spec.kind == "enum" && len(spec.elements) > 0 {
		out = append(out, fmt.Sprintf("CHECK (%s IN (%s))", col, literalList(spec.elements)))
	}
	if spec.kind == "email" {
		out = append(out, fmt.Sprintf("CHECK (%s LIKE '%%_@_%%')", col))
	}
	if spec.kind == "boolean" {
		out = append(out, fmt.Sprintf("CHECK (%s IN (0, 1))", col))
	}
	return out
}

func (sqliteDialect) uniqueIndex(_, collectionID, col string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		quoteIdent(collectionID+"_"+col+"_key"), quoteIdent(collectionID), quoteIdent(col))
}

func (sqliteDialect) isConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
