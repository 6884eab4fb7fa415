package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/schema"
	"github.com/harjula/fitsync-go/internal/store"
)

// downloadTable pulls rows newer than the local watermark and applies
// them in one store transaction. All-or-nothing: if the apply fails
// midway nothing is committed and the watermark stays put, so the next
// cycle re-fetches the same window. Re-applying is idempotent because
// every row lands via LWW resolution.
//
// A poison remote row (undecodable) is logged and skipped without
// aborting the batch; rows the local copy already beats are left
// alone, flag included.
func (e *Engine) downloadTable(ctx context.Context, t schema.Table, userID string, rep *TableReport) error {
	col := e.watermarkCol

	since, err := e.store.Watermark(ctx, t.Name, col)
	if err != nil {
		return fmt.Errorf("sync: download %s: %w", t.Name, err)
	}

	rows, err := e.remote.Select(ctx, t.Name, postgrest.Query{
		UserID: userID,
		Column: col,
		After:  since,
	})
	if err != nil {
		if isAuthErr(err) || isCanceled(err) {
			return err
		}
		return fmt.Errorf("sync: download %s: %w", t.Name, err)
	}

	if len(rows) == 0 {
		return nil
	}

	e.logger.Debug("applying remote rows",
		slog.String("table", t.Name),
		slog.String("op", "download"),
		slog.Int("rows", len(rows)),
		slog.Int64("since", since),
	)

	err = e.store.WriteTxn(ctx, func(txn *store.Txn) error {
		for _, obj := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := e.applyRemoteRow(ctx, txn, t, obj, rep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isCanceled(err) {
			return err
		}
		return fmt.Errorf("sync: download %s: %w", t.Name, err)
	}

	return nil
}

// applyRemoteRow merges one downloaded row into the local store inside
// the batch transaction. Decode failures skip the row; store failures
// abort the whole batch.
func (e *Engine) applyRemoteRow(ctx context.Context, txn *store.Txn, t schema.Table, obj map[string]any, rep *TableReport) error {
	dec, err := Decode(t, obj)
	if err != nil {
		rep.Skipped++
		e.logger.Error("remote row not decodable, skipping",
			slog.String("table", t.Name),
			slog.String("op", "download"),
			slog.String("id", wireID(obj)),
			slog.String("kind", "codec"),
			slog.String("error", err.Error()),
		)
		return nil
	}

	local, err := txn.Get(ctx, t.Name, dec.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	merged, decision := Resolve(local, dec)

	switch decision {
	case InsertNew:
		// Created straight from the remote: already synced, never
		// re-uploaded.
		if err := txn.Create(ctx, t.Name, merged); err != nil {
			return err
		}
		rep.Downloaded++

	case TakeRemote:
		hadPending := !local.Synced

		if err := txn.Overwrite(ctx, t.Name, merged); err != nil {
			return err
		}
		rep.Downloaded++

		if hadPending {
			// A pending local edit just lost LWW. The data is gone
			// from the device; the audit row is what's left of it.
			rep.Conflicts++
			entry := store.ConflictEntry{
				Table:           t.Name,
				RecordID:        dec.ID,
				LocalUpdatedAt:  local.UpdatedAt,
				RemoteUpdatedAt: dec.UpdatedAt,
				OverwrittenAt:   e.clock(),
			}
			if err := txn.RecordConflict(ctx, entry); err != nil {
				return err
			}
			e.logger.Warn("local edit overwritten by newer remote row",
				slog.String("table", t.Name),
				slog.String("op", "download"),
				slog.String("id", dec.ID),
				slog.String("kind", "conflict"),
				slog.Int64("local_updated_at", local.UpdatedAt),
				slog.Int64("remote_updated_at", dec.UpdatedAt),
			)
		}

	case KeepLocal:
		// Local copy is as new or newer. Leave it entirely alone; if
		// it carries a pending edit the next upload pass pushes it.
	}

	return nil
}

// wireID extracts the id of an undecodable wire row for logging. Best
// effort; poison rows may not even carry one.
func wireID(obj map[string]any) string {
	if id, ok := obj[schema.ColID].(string); ok {
		return id
	}
	return "?"
}
