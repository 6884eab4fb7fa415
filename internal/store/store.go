// Package store implements the device-local database: one SQLite file
// holding the syncable record tables plus the sync bookkeeping tables
// (sync_meta, conflict_audit). It is the only durable state on the
// device; the remote is reconciled against it by the sync engine.
//
// The store is the sole writer to its file. All multi-row apply work
// goes through WriteTxn so observers see a consistent snapshot before
// and after each batch.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harjula/fitsync-go/internal/schema"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Sentinel errors returned by record operations.
var (
	// ErrNotFound is returned by Get and id-targeted updates when no row
	// has the requested id. Missing rows are an expected outcome, not a
	// failure.
	ErrNotFound = errors.New("store: record not found")

	// ErrUnknownTable is returned when a table name is not in the
	// registry. Table names come from config and CLI input, so this is
	// reachable from user error.
	ErrUnknownTable = errors.New("store: unknown table")
)

// Watermark column names accepted by Watermark.
const (
	WatermarkUpdatedAt = "updated_at"
	WatermarkCreatedAt = "created_at"
)

// Store is the SQLite-backed local store. Record operations are keyed by
// registered table name; unknown names fail with ErrUnknownTable.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	tables map[string]tableQueries
}

// tableQueries holds the SQL generated for one registered table. The
// statements are derived from the schema registry at open time so every
// table shares one code path.
type tableQueries struct {
	table     schema.Table
	get       string
	insert    string
	update    string
	overwrite string
	markOne   string
	unsynced  string
	countUns  string
	recent    string
	count     string
	maxOf     map[string]string // watermark column -> MAX query
}

// Open opens (creating if needed) the local database at path, applies
// pragmas and pending migrations, and builds the per-table SQL. Pass a
// plain filesystem path; it is wrapped into a pragma-carrying DSN.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the
	// pool. foreign_keys stays off: parents always precede children in
	// sync order and referential enforcement is not this layer's job.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: one connection serializes all writes.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger,
		tables: make(map[string]tableQueries, len(schema.Tables())),
	}
	for _, t := range schema.Tables() {
		s.tables[t.Name] = buildQueries(t)
	}

	logger.Info("local store ready", slog.String("path", path))

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.logger.Debug("closing local store")

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// Checkpoint consolidates the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: wal checkpoint: %w", err)
	}

	return nil
}

// queriesFor resolves the generated SQL for a table name.
func (s *Store) queriesFor(table string) (tableQueries, error) {
	q, ok := s.tables[table]
	if !ok {
		return tableQueries{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	return q, nil
}

// buildQueries derives all SQL for one table from its column map. Table
// and column names come from the static registry, never from input, so
// string composition is safe here.
func buildQueries(t schema.Table) tableQueries {
	cols := []string{schema.ColID, schema.ColUserID, schema.ColCreatedAt, schema.ColUpdatedAt, schema.ColSynced}
	for _, c := range t.Columns {
		cols = append(cols, c.Name)
	}

	colList := strings.Join(cols, ", ")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	// update rewrites everything a local mutation may touch; id, user_id
	// and created_at are immutable after creation.
	setCols := []string{schema.ColUpdatedAt + " = ?", schema.ColSynced + " = ?"}
	for _, c := range t.Columns {
		setCols = append(setCols, c.Name+" = ?")
	}
	setList := strings.Join(setCols, ", ")

	return tableQueries{
		table:     t,
		get:       fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", colList, t.Name),
		insert:    fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, colList, placeholders),
		update:    fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.Name, setList),
		overwrite: fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.Name, setList),
		markOne:   fmt.Sprintf("UPDATE %s SET synced = 1 WHERE id = ?", t.Name),
		unsynced:  fmt.Sprintf("SELECT %s FROM %s WHERE synced = 0", colList, t.Name),
		countUns:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE synced = 0", t.Name),
		recent:    fmt.Sprintf("SELECT %s FROM %s ORDER BY updated_at DESC LIMIT ?", colList, t.Name),
		count:     fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Name),
		maxOf: map[string]string{
			WatermarkUpdatedAt: fmt.Sprintf("SELECT COALESCE(MAX(updated_at), 0) FROM %s", t.Name),
			WatermarkCreatedAt: fmt.Sprintf("SELECT COALESCE(MAX(created_at), 0) FROM %s", t.Name),
		},
	}
}

// insertArgs returns the argument slice matching the insert column order.
func insertArgs(t schema.Table, rec schema.Record) ([]any, error) {
	args := []any{rec.ID, rec.UserID, rec.CreatedAt, rec.UpdatedAt, boolToInt(rec.Synced)}

	for _, c := range t.Columns {
		v, err := fieldArg(c, rec.Fields[c.Local])
		if err != nil {
			return nil, fmt.Errorf("store: %s.%s: %w", t.Name, c.Name, err)
		}

		args = append(args, v)
	}

	return args, nil
}

// updateArgs returns the argument slice matching the update SET order,
// with the id appended for the WHERE clause.
func updateArgs(t schema.Table, rec schema.Record) ([]any, error) {
	args := []any{rec.UpdatedAt, boolToInt(rec.Synced)}

	for _, c := range t.Columns {
		v, err := fieldArg(c, rec.Fields[c.Local])
		if err != nil {
			return nil, fmt.Errorf("store: %s.%s: %w", t.Name, c.Name, err)
		}

		args = append(args, v)
	}

	return append(args, rec.ID), nil
}

// fieldArg converts a local field value into a driver argument for its
// column kind. An absent field (nil) stores NULL.
func fieldArg(c schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch c.Kind {
	case schema.KindText, schema.KindJSON:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}

		return s, nil
	case schema.KindInt, schema.KindTime:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		default:
			return nil, fmt.Errorf("want int64, got %T", v)
		}
	case schema.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("want float64, got %T", v)
		}
	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}

		return boolToInt(b), nil
	default:
		return nil, fmt.Errorf("unhandled column kind %s", c.Kind)
	}
}

// scanRecord scans one full row (envelope + payload) into a Record.
// Payload values land under their local field names; NULL columns are
// left absent from Fields.
func scanRecord(t schema.Table, row interface{ Scan(...any) error }) (schema.Record, error) {
	var (
		rec    schema.Record
		synced int64
	)

	targets := []any{&rec.ID, &rec.UserID, &rec.CreatedAt, &rec.UpdatedAt, &synced}

	holders := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		holders[i] = scanTarget(c)
		targets = append(targets, holders[i])
	}

	if err := row.Scan(targets...); err != nil {
		return schema.Record{}, err
	}

	rec.Synced = synced != 0
	rec.Fields = make(map[string]any, len(t.Columns))

	for i, c := range t.Columns {
		if v, ok := scannedValue(c, holders[i]); ok {
			rec.Fields[c.Local] = v
		}
	}

	return rec, nil
}

// scanTarget returns a nullable scan destination for a column kind.
func scanTarget(c schema.Column) any {
	switch c.Kind {
	case schema.KindText, schema.KindJSON:
		return &sql.NullString{}
	case schema.KindFloat:
		return &sql.NullFloat64{}
	default: // KindInt, KindTime, KindBool
		return &sql.NullInt64{}
	}
}

// scannedValue unwraps a scan destination into the local field value.
// Returns ok=false for NULL.
func scannedValue(c schema.Column, holder any) (any, bool) {
	switch h := holder.(type) {
	case *sql.NullString:
		if !h.Valid {
			return nil, false
		}

		return h.String, true
	case *sql.NullFloat64:
		if !h.Valid {
			return nil, false
		}

		return h.Float64, true
	case *sql.NullInt64:
		if !h.Valid {
			return nil, false
		}

		if c.Kind == schema.KindBool {
			return h.Int64 != 0, true
		}

		return h.Int64, true
	default:
		return nil, false
	}
}

// scanRecordRows collects all records from a result set.
func scanRecordRows(t schema.Table, rows *sql.Rows) ([]schema.Record, error) {
	var recs []schema.Record

	for rows.Next() {
		rec, err := scanRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning %s row: %w", t.Name, err)
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s rows: %w", t.Name, err)
	}

	return recs, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

// validateRecord rejects envelopes that would corrupt sync invariants.
func validateRecord(rec schema.Record) error {
	if rec.ID == "" {
		return errors.New("store: record id is empty")
	}

	if rec.UserID == "" {
		return errors.New("store: record user_id is empty")
	}

	if rec.CreatedAt > rec.UpdatedAt {
		return fmt.Errorf("store: record %s created_at %d after updated_at %d",
			rec.ID, rec.CreatedAt, rec.UpdatedAt)
	}

	return nil
}
