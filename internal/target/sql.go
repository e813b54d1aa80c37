package target

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Catalog tables shared by the SQL backends.
const (
	catalogCollections = "_docpilot_collections"
	junctionSeparator  = "__"
)

// dialect isolates the differences between the SQL backends.
type dialect interface {
	name() string
	placeholder(n int) string
	// table returns the qualified name of a collection's table.
	table(databaseID, collectionID string) string
	catalog() string
	initCatalog(ctx context.Context, db *sql.DB) error
	databaseExists(ctx context.Context, db *sql.DB, databaseID string) (string, bool, error)
	createDatabase(ctx context.Context, db *sql.DB, databaseID, name string) error
	tables(ctx context.Context, db *sql.DB, databaseID string) ([]string, error)
	columns(ctx context.Context, db *sql.DB, databaseID, table string) ([]string, error)
	columnType(kind string, size int, array bool) string
	// constraints returns the column constraints for a new column.
	constraints(col string, spec columnSpec) []string
	uniqueIndex(databaseID, collectionID, col string) string
	isConflict(err error) bool
}

// columnSpec is the backend-neutral description of a new column.
type columnSpec struct {
	kind     string // string, integer, datetime, email, enum, boolean
	size     int
	required bool
	array    bool
	min, max *int64
	elements []string
	def      string // SQL literal, empty for none
}

// SQLOperator implements Operator on a relational database: a collection is
// a table keyed by id, an attribute is a column, a to-one relationship is a
// foreign-key column and a to-many relationship is a junction table named
// <collection>__<key>.
type SQLOperator struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

func newSQLOperator(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) (*SQLOperator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := d.initCatalog(ctx, db); err != nil {
		return nil, fmt.Errorf("creating %s catalog: %w", d.name(), err)
	}
	return &SQLOperator{db: db, dialect: d, logger: logger}, nil
}

func (s *SQLOperator) exec(ctx context.Context, stmt string, args ...any) error {
	s.logger.Debug("sql exec", "backend", s.dialect.name(), "stmt", stmt)
	_, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil && s.dialect.isConflict(err) {
		return fmt.Errorf("%v: %w", err, ErrConflict)
	}
	return err
}

func (s *SQLOperator) GetDatabase(ctx context.Context, databaseID string) (*DatabaseInfo, error) {
	name, ok, err := s.dialect.databaseExists(ctx, s.db, databaseID)
	if err != nil {
		return nil, fmt.Errorf("looking up database %s: %w", databaseID, err)
	}
	if !ok {
		return nil, fmt.Errorf("database %s: %w", databaseID, ErrNotFound)
	}
	return &DatabaseInfo{ID: databaseID, Name: name}, nil
}

func (s *SQLOperator) CreateDatabase(ctx context.Context, databaseID, name string) error {
	if err := s.dialect.createDatabase(ctx, s.db, databaseID, name); err != nil {
		if s.dialect.isConflict(err) {
			return fmt.Errorf("database %s: %w", databaseID, ErrConflict)
		}
		return fmt.Errorf("creating database %s: %w", databaseID, err)
	}
	return nil
}

func (s *SQLOperator) tableExists(ctx context.Context, databaseID, table string) (bool, error) {
	tables, err := s.dialect.tables(ctx, s.db, databaseID)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

func (s *SQLOperator) GetCollection(ctx context.Context, databaseID, collectionID string) (*CollectionInfo, error) {
	ok, err := s.tableExists(ctx, databaseID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("looking up collection %s: %w", collectionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}

	info := &CollectionInfo{ID: collectionID, Name: collectionID}
	q := fmt.Sprintf("SELECT name, permissions FROM %s WHERE database_id = %s AND id = %s",
		s.dialect.catalog(), s.dialect.placeholder(1), s.dialect.placeholder(2))
	var perms string
	err = s.db.QueryRowContext(ctx, q, databaseID, collectionID).Scan(&info.Name, &perms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Created outside docpilot; the table is all there is.
	case err != nil:
		return nil, fmt.Errorf("reading catalog for %s: %w", collectionID, err)
	default:
		_ = json.Unmarshal([]byte(perms), &info.Permissions)
	}
	return info, nil
}

func (s *SQLOperator) CreateCollection(ctx context.Context, databaseID, collectionID, name string, permissions []string) error {
	stmt := fmt.Sprintf("CREATE TABLE %s (id TEXT PRIMARY KEY)", s.dialect.table(databaseID, collectionID))
	if err := s.exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating collection %s: %w", collectionID, err)
	}

	perms, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("encoding permissions: %w", err)
	}
	p := s.dialect.placeholder
	ins := fmt.Sprintf("INSERT INTO %s (database_id, id, name, permissions) VALUES (%s, %s, %s, %s) ON CONFLICT DO NOTHING",
		s.dialect.catalog(), p(1), p(2), p(3), p(4))
	if err := s.exec(ctx, ins, databaseID, collectionID, name, string(perms)); err != nil {
		return fmt.Errorf("recording collection %s: %w", collectionID, err)
	}
	return nil
}

// ListAttributes reports every column except id, plus one entry per
// junction table owned by the collection. SQL DDL is synchronous so every
// attribute is available.
func (s *SQLOperator) ListAttributes(ctx context.Context, databaseID, collectionID string) ([]AttributeInfo, error) {
	ok, err := s.tableExists(ctx, databaseID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing attributes of %s: %w", collectionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}

	cols, err := s.dialect.columns(ctx, s.db, databaseID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing attributes of %s: %w", collectionID, err)
	}
	var out []AttributeInfo
	for _, c := range cols {
		if c == "id" {
			continue
		}
		out = append(out, AttributeInfo{Key: c, Type: "column", Status: StatusAvailable})
	}

	tables, err := s.dialect.tables(ctx, s.db, databaseID)
	if err != nil {
		return nil, fmt.Errorf("listing relationships of %s: %w", collectionID, err)
	}
	prefix := collectionID + junctionSeparator
	for _, t := range tables {
		if strings.HasPrefix(t, prefix) {
			out = append(out, AttributeInfo{
				Key:    strings.TrimPrefix(t, prefix),
				Type:   "relationship",
				Status: StatusAvailable,
				Array:  true,
			})
		}
	}
	return out, nil
}

func (s *SQLOperator) addColumn(ctx context.Context, databaseID, collectionID, key string, spec columnSpec) error {
	col := quoteIdent(key)
	parts := []string{col, s.dialect.columnType(spec.kind, spec.size, spec.array)}
	if spec.def != "" {
		parts = append(parts, "DEFAULT "+spec.def)
	}
	parts = append(parts, s.dialect.constraints(col, spec)...)

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		s.dialect.table(databaseID, collectionID), strings.Join(parts, " "))
	if err := s.exec(ctx, stmt); err != nil {
		return fmt.Errorf("adding attribute %s.%s: %w", collectionID, key, err)
	}
	return nil
}

func (s *SQLOperator) CreateStringAttribute(ctx context.Context, databaseID, collectionID string, attr StringAttribute) error {
	return s.addColumn(ctx, databaseID, collectionID, attr.Key, columnSpec{
		kind: "string", size: attr.Size, required: attr.Required, array: attr.Array,
		def: stringLiteral(attr.Default),
	})
}

func (s *SQLOperator) CreateIntegerAttribute(ctx context.Context, databaseID, collectionID string, attr IntegerAttribute) error {
	def := ""
	if attr.Default != nil {
		def = strconv.FormatInt(*attr.Default, 10)
	}
	return s.addColumn(ctx, databaseID, collectionID, attr.Key, columnSpec{
		kind: "integer", required: attr.Required, array: attr.Array,
		min: attr.Min, max: attr.Max, def: def,
	})
}

func (s *SQLOperator) CreateDatetimeAttribute(ctx context.Context, databaseID, collectionID string, attr DatetimeAttribute) error {
	return s.addColumn(ctx, databaseID, collectionID, attr.Key, columnSpec{
		kind: "datetime", required: attr.Required, array: attr.Array, def: stringLiteral(attr.Default),
	})
}

func (s *SQLOperator) CreateEmailAttribute(ctx context.Context, databaseID, collectionID string, attr EmailAttribute) error {
	return s.addColumn(ctx, databaseID, collectionID, attr.Key, columnSpec{
		kind: "email", size: 320, required: attr.Required, array: attr.Array, def: stringLiteral(attr.Default),
	})
}

func (s *SQLOperator) CreateEnumAttribute(ctx context.Context, databaseID, collectionID string, attr EnumAttribute) error {
	return s.addColumn(ctx, databaseID, collectionID, attr.Key, columnSpec{
		kind: "enum", required: attr.Required, array: attr.Array,
		elements: attr.Elements, def: stringLiteral(attr.Default),
	})
}

func (s *SQLOperator) CreateBooleanAttribute(ctx context.Context, databaseID, collectionID string, attr BooleanAttribute) error {
	def := ""
	if attr.Default != nil {
		def = "FALSE"
		if *attr.Default {
			def = "TRUE"
		}
	}
	return s.addColumn(ctx, databaseID, collectionID, attr.Key, columnSpec{
		kind: "boolean", required: attr.Required, array: attr.Array, def: def,
	})
}

// CreateRelationship adds a foreign-key column for to-one relationships and
// a junction table for to-many relationships. Two-way relationships must be
// declared as two one-way relationships.
func (s *SQLOperator) CreateRelationship(ctx context.Context, databaseID string, rel Relationship) error {
	if err := validRelation(rel); err != nil {
		return err
	}
	if rel.TwoWay {
		return fmt.Errorf("two-way relationship %s.%s: declare each side separately: %w",
			rel.CollectionID, rel.Key, ErrUnsupported)
	}

	source := s.dialect.table(databaseID, rel.CollectionID)
	related := s.dialect.table(databaseID, rel.RelatedCollectionID)
	onDelete := onDeleteSQL(rel.OnDelete)

	if !toMany(rel.Type) {
		col := quoteIdent(rel.Key)
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT REFERENCES %s(id) ON DELETE %s",
			source, col, related, onDelete)
		if err := s.exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating relationship %s.%s: %w", rel.CollectionID, rel.Key, err)
		}
		if rel.Type == RelationOneToOne {
			if err := s.exec(ctx, s.dialect.uniqueIndex(databaseID, rel.CollectionID, rel.Key)); err != nil {
				return fmt.Errorf("creating relationship %s.%s: %w", rel.CollectionID, rel.Key, err)
			}
		}
		return nil
	}

	// A junction row cannot hold a null target, so set-null removes the
	// link the same way cascade does.
	if rel.OnDelete == OnDeleteSetNull {
		onDelete = "CASCADE"
	}
	targetCol := "target_id TEXT NOT NULL"
	if rel.Type == RelationOneToMany {
		targetCol += " UNIQUE"
	}
	junction := s.dialect.table(databaseID, rel.CollectionID+junctionSeparator+rel.Key)
	stmt := fmt.Sprintf(`CREATE TABLE %s (
	source_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	%s REFERENCES %s(id) ON DELETE %s,
	PRIMARY KEY (source_id, target_id)
)`, junction, source, targetCol, related, onDelete)
	if err := s.exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating relationship %s.%s: %w", rel.CollectionID, rel.Key, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLOperator) Close(_ context.Context) error {
	return s.db.Close()
}

func onDeleteSQL(policy string) string {
	switch policy {
	case OnDeleteSetNull:
		return "SET NULL"
	case OnDeleteRestrict:
		return "RESTRICT"
	}
	return "CASCADE"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func stringLiteral(s *string) string {
	if s == nil {
		return ""
	}
	return quoteLiteral(*s)
}

func literalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}
