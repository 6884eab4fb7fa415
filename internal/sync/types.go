// Package sync implements the bidirectional synchronization engine:
// upload local pending rows, download newer remote rows, resolve by
// last-write-wins, all per table in the registry's declared order. The
// Orchestrator wraps the engine in a background lifecycle (ticker plus
// change hints); the engine itself is one cycle at a time.
package sync

import (
	"context"
	"errors"

	"github.com/harjula/fitsync-go/internal/postgrest"
)

// Remote is the slice of the PostgREST client the engine consumes.
// Satisfied by *postgrest.Client; tests inject fakes.
type Remote interface {
	// Upsert writes one encoded row, merging on duplicate id. The
	// remote applies the merge only when the incoming updated_at is
	// newer, so replaying an old row is harmless.
	Upsert(ctx context.Context, table string, row map[string]any) error

	// Select returns the caller's rows matching the query, ordered
	// ascending by the query column, already depaginated.
	Select(ctx context.Context, table string, q postgrest.Query) ([]map[string]any, error)
}

// TableReport counts what one cycle did to one table.
type TableReport struct {
	Uploaded   int // rows acknowledged by the remote this cycle
	Downloaded int // remote rows created or applied locally
	Conflicts  int // LWW overwrites of rows that had pending local edits
	Skipped    int // poison rows (codec or schema errors), retried never
	Errors     int // transient row failures, retried next cycle
}

// Report summarizes one full sync cycle for logs, status, and tests.
type Report struct {
	PerTable map[string]TableReport
	Aborted  bool // auth failure or cancellation ended the cycle early
}

// Totals sums the per-table counters.
func (r Report) Totals() TableReport {
	var sum TableReport
	for _, tr := range r.PerTable {
		sum.Uploaded += tr.Uploaded
		sum.Downloaded += tr.Downloaded
		sum.Conflicts += tr.Conflicts
		sum.Skipped += tr.Skipped
		sum.Errors += tr.Errors
	}
	return sum
}

// isCanceled reports whether err is context cancellation, possibly
// wrapped by the transport.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isAuthErr reports whether err means the session is no longer valid.
func isAuthErr(err error) bool {
	return errors.Is(err, postgrest.ErrAuth)
}
