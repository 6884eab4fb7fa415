package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/schema"
)

// uploadTable pushes every pending row of one table to the remote, one
// request per row. At-least-once delivery paired with the remote's
// idempotent merge keeps replays harmless: a row uploaded twice is
// acknowledged twice and stored once.
//
// Row failures are contained: a poison row (codec or schema rejection)
// is logged with its id and skipped for good, a transient failure is
// logged and retried next cycle. Only two things stop the loop early:
// an auth rejection (the whole cycle must abort) and a local store
// failure (MarkSynced raced a corrupt database; re-uploading next cycle
// is safe, continuing without the flag is not).
func (e *Engine) uploadTable(ctx context.Context, t schema.Table, rep *TableReport) error {
	rows, err := e.store.Unsynced(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("sync: upload %s: %w", t.Name, err)
	}

	if len(rows) == 0 {
		return nil
	}

	e.logger.Debug("uploading pending rows",
		slog.String("table", t.Name),
		slog.String("op", "upload"),
		slog.Int("pending", len(rows)),
	)

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := Encode(t, rec)
		if err != nil {
			rep.Skipped++
			e.logger.Error("row not encodable, skipping",
				slog.String("table", t.Name),
				slog.String("op", "upload"),
				slog.String("id", rec.ID),
				slog.String("kind", "codec"),
				slog.String("error", err.Error()),
			)
			continue
		}

		err = e.remote.Upsert(ctx, t.Name, row)
		switch {
		case err == nil, errors.Is(err, postgrest.ErrDuplicateID):
			// Acknowledged (duplicate id means the row is already
			// remote). Flip the flag; everything else is untouched so
			// an edit that landed mid-upload stays pending.
			if err := e.store.MarkSynced(ctx, t.Name, rec.ID); err != nil {
				return fmt.Errorf("sync: upload %s: %w", t.Name, err)
			}
			rep.Uploaded++

		case isAuthErr(err):
			return fmt.Errorf("sync: upload %s: %w", t.Name, err)

		case isCanceled(err):
			return err

		case errors.Is(err, postgrest.ErrSchema):
			// The remote rejected the row shape. Permanent until the
			// row or the deployment changes; do not block the rest.
			rep.Skipped++
			e.logger.Error("remote rejected row, skipping",
				slog.String("table", t.Name),
				slog.String("op", "upload"),
				slog.String("id", rec.ID),
				slog.String("kind", "schema"),
				slog.String("error", err.Error()),
			)

		default:
			// Transient (network, server, throttling). The row stays
			// unsynced and retries next cycle.
			rep.Errors++
			e.logger.Warn("row upload failed, will retry next cycle",
				slog.String("table", t.Name),
				slog.String("op", "upload"),
				slog.String("id", rec.ID),
				slog.String("kind", "transient"),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}
