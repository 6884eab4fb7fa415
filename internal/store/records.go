package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harjula/fitsync-go/internal/schema"
)

// Get retrieves one record by id. Returns ErrNotFound when no row with
// the id exists.
func (s *Store) Get(ctx context.Context, table, id string) (schema.Record, error) {
	q, err := s.queriesFor(table)
	if err != nil {
		return schema.Record{}, err
	}

	rec, err := scanRecord(q.table, s.db.QueryRowContext(ctx, q.get, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Record{}, fmt.Errorf("store: get %s %s: %w", table, id, ErrNotFound)
	}

	if err != nil {
		return schema.Record{}, fmt.Errorf("store: get %s %s: %w", table, id, err)
	}

	return rec, nil
}

// Create persists a new record. The caller supplies the id; creating an
// id that already exists is an error.
func (s *Store) Create(ctx context.Context, table string, rec schema.Record) error {
	q, err := s.queriesFor(table)
	if err != nil {
		return err
	}

	if err := validateRecord(rec); err != nil {
		return err
	}

	args, err := insertArgs(q.table, rec)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, q.insert, args...); err != nil {
		return fmt.Errorf("store: create %s %s: %w", table, rec.ID, err)
	}

	s.logger.Debug("record created",
		"table", table, "id", rec.ID, "synced", rec.Synced)

	return nil
}

// Update performs an atomic read-modify-write on one record. The mutator
// receives the current row and edits it in place; id, user_id and
// created_at are immutable and silently preserved. The mutator does not
// bump updated_at: mutation semantics (stamp + clear synced) belong to
// the caller so that sync bookkeeping writes stay byte-exact.
func (s *Store) Update(ctx context.Context, table, id string, mutate func(*schema.Record) error) error {
	q, err := s.queriesFor(table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update %s %s: begin: %w", table, id, err)
	}

	if err := updateInTx(ctx, tx, q, id, mutate); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: update %s %s: commit: %w", table, id, err)
	}

	return nil
}

// updateInTx is the shared read-modify-write body used by Update and Txn.
func updateInTx(ctx context.Context, tx *sql.Tx, q tableQueries, id string, mutate func(*schema.Record) error) error {
	rec, err := scanRecord(q.table, tx.QueryRowContext(ctx, q.get, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: update %s %s: %w", q.table.Name, id, ErrNotFound)
	}

	if err != nil {
		return fmt.Errorf("store: update %s %s: read: %w", q.table.Name, id, err)
	}

	frozen := rec // immutable envelope fields, restored below

	if err := mutate(&rec); err != nil {
		return fmt.Errorf("store: update %s %s: mutator: %w", q.table.Name, id, err)
	}

	rec.ID = frozen.ID
	rec.UserID = frozen.UserID
	rec.CreatedAt = frozen.CreatedAt

	if err := validateRecord(rec); err != nil {
		return err
	}

	args, err := updateArgs(q.table, rec)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, q.update, args...); err != nil {
		return fmt.Errorf("store: update %s %s: write: %w", q.table.Name, id, err)
	}

	return nil
}

// MarkSynced flips the synced flag to true, touching no other column.
// Used after a successful upload; the row content must stay byte-exact
// so a concurrent local mutation is never masked.
func (s *Store) MarkSynced(ctx context.Context, table, id string) error {
	q, err := s.queriesFor(table)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, q.markOne, id)
	if err != nil {
		return fmt.Errorf("store: mark synced %s %s: %w", table, id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark synced %s %s: rows affected: %w", table, id, err)
	}

	if affected == 0 {
		return fmt.Errorf("store: mark synced %s %s: %w", table, id, ErrNotFound)
	}

	return nil
}

// Unsynced returns every record whose synced flag is false. This is the
// change log feeding the uploader: order is unspecified, the set is
// finite, and the query is covered by the (user_id, synced) index.
func (s *Store) Unsynced(ctx context.Context, table string) ([]schema.Record, error) {
	q, err := s.queriesFor(table)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.unsynced)
	if err != nil {
		return nil, fmt.Errorf("store: unsynced %s: %w", table, err)
	}
	defer rows.Close()

	return scanRecordRows(q.table, rows)
}

// CountUnsynced returns the number of rows pending upload.
func (s *Store) CountUnsynced(ctx context.Context, table string) (int64, error) {
	q, err := s.queriesFor(table)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, q.countUns).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count unsynced %s: %w", table, err)
	}

	return n, nil
}

// Count returns the total number of rows in a table. Used by verify.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	q, err := s.queriesFor(table)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, q.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", table, err)
	}

	return n, nil
}

// Watermark returns the greatest updated_at or created_at across a
// table, or 0 when the table is empty. The downloader filters remote
// reads on values strictly greater than this.
func (s *Store) Watermark(ctx context.Context, table, column string) (int64, error) {
	q, err := s.queriesFor(table)
	if err != nil {
		return 0, err
	}

	query, ok := q.maxOf[column]
	if !ok {
		return 0, fmt.Errorf("store: watermark %s: unsupported column %q", table, column)
	}

	var max int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: watermark %s: %w", table, err)
	}

	return max, nil
}

// Recent returns up to limit records ordered newest-first by updated_at.
func (s *Store) Recent(ctx context.Context, table string, limit int) ([]schema.Record, error) {
	q, err := s.queriesFor(table)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.recent, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent %s: %w", table, err)
	}
	defer rows.Close()

	return scanRecordRows(q.table, rows)
}
