package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harjula/fitsync-go/internal/schema"
)

// Txn groups writes into one atomic batch. Reads inside the transaction
// observe its pending writes, which is what lets the downloader apply a
// whole remote page with per-row get-then-decide and still commit
// all-or-nothing.
type Txn struct {
	tx    *sql.Tx
	store *Store
}

// WriteTxn runs fn inside a single transaction. A non-nil error from fn
// rolls every write back; otherwise the batch commits atomically.
func (s *Store) WriteTxn(ctx context.Context, fn func(*Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin write txn: %w", err)
	}

	if err := fn(&Txn{tx: tx, store: s}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit write txn: %w", err)
	}

	return nil
}

// Get retrieves one record inside the transaction. ErrNotFound when the
// id does not exist, including ids created earlier in this transaction
// and rolled back.
func (t *Txn) Get(ctx context.Context, table, id string) (schema.Record, error) {
	q, err := t.store.queriesFor(table)
	if err != nil {
		return schema.Record{}, err
	}

	rec, err := scanRecord(q.table, t.tx.QueryRowContext(ctx, q.get, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Record{}, fmt.Errorf("store: get %s %s: %w", table, id, ErrNotFound)
	}

	if err != nil {
		return schema.Record{}, fmt.Errorf("store: get %s %s: %w", table, id, err)
	}

	return rec, nil
}

// Create inserts a new record inside the transaction.
func (t *Txn) Create(ctx context.Context, table string, rec schema.Record) error {
	q, err := t.store.queriesFor(table)
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

	if _, err := t.tx.ExecContext(ctx, q.insert, args...); err != nil {
		return fmt.Errorf("store: create %s %s: %w", table, rec.ID, err)
	}

	return nil
}

// Update performs a read-modify-write inside the transaction, with the
// same immutability rules as Store.Update.
func (t *Txn) Update(ctx context.Context, table, id string, mutate func(*schema.Record) error) error {
	q, err := t.store.queriesFor(table)
	if err != nil {
		return err
	}

	return updateInTx(ctx, t.tx, q, id, mutate)
}

// Overwrite replaces an existing row's payload, updated_at and synced
// flag with the given record. Used by the downloader when a remote row
// wins conflict resolution; id, user_id and created_at stay as stored.
func (t *Txn) Overwrite(ctx context.Context, table string, rec schema.Record) error {
	q, err := t.store.queriesFor(table)
	if err != nil {
		return err
	}

	args, err := updateArgs(q.table, rec)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, q.overwrite, args...)
	if err != nil {
		return fmt.Errorf("store: overwrite %s %s: %w", table, rec.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: overwrite %s %s: rows affected: %w", table, rec.ID, err)
	}

	if affected == 0 {
		return fmt.Errorf("store: overwrite %s %s: %w", table, rec.ID, ErrNotFound)
	}

	return nil
}

// MarkSynced flips the synced flag inside the transaction.
func (t *Txn) MarkSynced(ctx context.Context, table, id string) error {
	q, err := t.store.queriesFor(table)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, q.markOne, id)
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

// RecordConflict appends an entry to the conflict audit inside the
// transaction, so the audit row commits atomically with the overwrite
// it describes.
func (t *Txn) RecordConflict(ctx context.Context, entry ConflictEntry) error {
	if _, err := t.tx.ExecContext(ctx, sqlInsertConflict,
		entry.Table, entry.RecordID,
		entry.LocalUpdatedAt, entry.RemoteUpdatedAt, entry.OverwrittenAt,
	); err != nil {
		return fmt.Errorf("store: record conflict %s %s: %w", entry.Table, entry.RecordID, err)
	}

	return nil
}
