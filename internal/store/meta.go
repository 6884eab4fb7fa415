package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// sync_meta keys. The table is a small device-local key/value space for
// daemon bookkeeping that must survive restarts.
const (
	metaPaused   = "paused"
	metaLastSync = "last_sync_ms"
	metaLastUser = "last_user_id"
)

const (
	sqlGetMeta = `SELECT value FROM sync_meta WHERE key = ?`

	sqlSetMeta = `INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	sqlInsertConflict = `INSERT INTO conflict_audit
		(table_name, record_id, local_updated_at, remote_updated_at, overwritten_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlRecentConflicts = `SELECT table_name, record_id,
		local_updated_at, remote_updated_at, overwritten_at
		FROM conflict_audit ORDER BY overwritten_at DESC, rowid DESC LIMIT ?`
)

// ConflictEntry records one last-write-wins overwrite where the local
// row had unsynced changes. The audit preserves enough to explain what
// was lost and when; the payload itself is gone by design.
type ConflictEntry struct {
	Table           string
	RecordID        string
	LocalUpdatedAt  int64
	RemoteUpdatedAt int64
	OverwrittenAt   int64
}

// getMeta reads one sync_meta value, returning "" when the key is unset.
func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx, sqlGetMeta, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("store: get meta %q: %w", key, err)
	}

	return value, nil
}

// setMeta upserts one sync_meta value.
func (s *Store) setMeta(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, sqlSetMeta, key, value); err != nil {
		return fmt.Errorf("store: set meta %q: %w", key, err)
	}

	return nil
}

// Paused reports whether background sync is administratively paused.
func (s *Store) Paused(ctx context.Context) (bool, error) {
	v, err := s.getMeta(ctx, metaPaused)
	if err != nil {
		return false, err
	}

	return v == "1", nil
}

// SetPaused sets or clears the paused flag.
func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	v := "0"
	if paused {
		v = "1"
	}

	return s.setMeta(ctx, metaPaused, v)
}

// LastSync returns the completion time (epoch ms) of the last full sync
// cycle, or 0 when none has completed.
func (s *Store) LastSync(ctx context.Context) (int64, error) {
	v, err := s.getMeta(ctx, metaLastSync)
	if err != nil || v == "" {
		return 0, err
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse last sync %q: %w", v, err)
	}

	return ms, nil
}

// SetLastSync records the completion time of a full sync cycle.
func (s *Store) SetLastSync(ctx context.Context, ms int64) error {
	return s.setMeta(ctx, metaLastSync, strconv.FormatInt(ms, 10))
}

// LastUser returns the user id of the last session that synced. The
// watch daemon uses it to refuse a silent account switch on one device
// database.
func (s *Store) LastUser(ctx context.Context) (string, error) {
	return s.getMeta(ctx, metaLastUser)
}

// SetLastUser records the syncing user id.
func (s *Store) SetLastUser(ctx context.Context, userID string) error {
	return s.setMeta(ctx, metaLastUser, userID)
}

// RecentConflicts returns the newest audit entries, most recent first.
func (s *Store) RecentConflicts(ctx context.Context, limit int) ([]ConflictEntry, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentConflicts, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent conflicts: %w", err)
	}
	defer rows.Close()

	var entries []ConflictEntry

	for rows.Next() {
		var e ConflictEntry
		if err := rows.Scan(&e.Table, &e.RecordID,
			&e.LocalUpdatedAt, &e.RemoteUpdatedAt, &e.OverwrittenAt); err != nil {
			return nil, fmt.Errorf("store: scan conflict row: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate conflict rows: %w", err)
	}

	return entries, nil
}
