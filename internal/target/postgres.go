package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQL error codes that mean "already exists".
const (
	pgDuplicateColumn = "42701"
	pgDuplicateTable  = "42P07"
	pgDuplicateSchema = "42P06"
	pgUniqueViolation = "23505"
)

// NewPostgresOperator connects to PostgreSQL. Each declared database maps
// to a schema of the same name.
func NewPostgresOperator(ctx context.Context, dsn string, logger *slog.Logger) (*SQLOperator, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	op, err := newSQLOperator(ctx, db, postgresDialect{}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return op, nil
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) table(databaseID, collectionID string) string {
	return quoteIdent(databaseID) + "." + quoteIdent(collectionID)
}

func (postgresDialect) catalog() string { return "public." + catalogCollections }

func (d postgresDialect) initCatalog(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	database_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (database_id, id)
)`, d.catalog()))
	return err
}

func (postgresDialect) databaseExists(ctx context.Context, db *sql.DB, databaseID string) (string, bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1", databaseID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var comment sql.NullString
	_ = db.QueryRowContext(ctx,
		"SELECT obj_description(oid, 'pg_namespace') FROM pg_namespace WHERE nspname = $1", databaseID).Scan(&comment)
	if comment.Valid && comment.String != "" {
		name = comment.String
	}
	return name, true, nil
}

func (postgresDialect) createDatabase(ctx context.Context, db *sql.DB, databaseID, name string) error {
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA "+quoteIdent(databaseID)); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("COMMENT ON SCHEMA %s IS %s", quoteIdent(databaseID), quoteLiteral(name)))
	return err
}

func (postgresDialect) tables(ctx context.Context, db *sql.DB, databaseID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, databaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (postgresDialect) columns(ctx context.Context, db *sql.DB, databaseID, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, databaseID, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (postgresDialect) columnType(kind string, size int, array bool) string {
	var t string
	switch kind {
	case "string":
		t = fmt.Sprintf("varchar(%d)", size)
	case "integer":
		t = "bigint"
	case "datetime":
		t = "timestamptz"
	case "email":
		t = "varchar(320)"
	case "boolean":
		t = "boolean"
	default:
		t = "text"
	}
	if array {
		t += "[]"
	}
	return t
}

func (postgresDialect) constraints(col string, spec columnSpec) []string {
	var out []string
	if spec.required {
		out = append(out, "NOT NULL")
	}
	// Element checks on arrays would need a subquery, which CHECK disallows.
	if spec.array {
		return out
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
	return out
}

func (postgresDialect) uniqueIndex(databaseID, collectionID, col string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		quoteIdent(collectionID+"_"+col+"_key"), postgresDialect{}.table(databaseID, collectionID), quoteIdent(col))
}

func (postgresDialect) isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgDuplicateColumn, pgDuplicateTable, pgDuplicateSchema, pgUniqueViolation:
		return true
	}
	return false
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
