package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harjula/fitsync-go/internal/schema"
	"github.com/harjula/fitsync-go/internal/store"
)

// EngineConfig holds the inputs for NewEngine. The CLI layer populates
// it from resolved config; tests substitute fakes for Remote and Clock.
type EngineConfig struct {
	Store           *store.Store
	Remote          Remote // satisfied by *postgrest.Client
	Clock           Clock  // nil means WallClock
	Tables          []string
	WatermarkColumn string // updated_at unless configured otherwise
	Logger          *slog.Logger
}

// Engine runs one full sync cycle at a time: an upload pass over every
// table in declared order, then a download pass over the same tables in
// the same order. It holds no cycle state between calls; single-flight
// discipline belongs to the Orchestrator.
type Engine struct {
	store        *store.Store
	remote       Remote
	clock        Clock
	tables       []schema.Table
	watermarkCol string
	logger       *slog.Logger
}

// NewEngine validates the configured table set against the registry and
// returns an Engine. An empty Tables list means all registered tables;
// an explicit list also fixes the sync order, so parents must be listed
// before children.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("sync: new engine: no store")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("sync: new engine: no remote")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = WallClock
	}

	col := cfg.WatermarkColumn
	switch col {
	case "":
		col = store.WatermarkUpdatedAt
	case store.WatermarkUpdatedAt, store.WatermarkCreatedAt:
	default:
		return nil, fmt.Errorf("sync: new engine: invalid watermark column %q", col)
	}

	names := cfg.Tables
	if len(names) == 0 {
		names = schema.TableNames()
	}

	tables := make([]schema.Table, 0, len(names))
	for _, name := range names {
		t, ok := schema.ByName(name)
		if !ok {
			return nil, fmt.Errorf("sync: new engine: unknown table %q", name)
		}
		tables = append(tables, t)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:        cfg.Store,
		remote:       cfg.Remote,
		clock:        clock,
		tables:       tables,
		watermarkCol: col,
		logger:       logger,
	}, nil
}

// FullSync runs one complete cycle for the given user: upload every
// table, then download every table, both in declared order. Failures
// are contained at the table boundary and counted in the Report; only
// an auth rejection surfaces as an error (the session must
// re-authenticate before the next cycle can do useful work).
// Cancellation stops the cycle between rows with Aborted set and a nil
// error.
func (e *Engine) FullSync(ctx context.Context, userID string) (Report, error) {
	start := time.Now()
	report := Report{PerTable: make(map[string]TableReport, len(e.tables))}

	if userID == "" {
		return report, fmt.Errorf("sync: full sync: empty user id")
	}

	e.logger.Info("sync cycle starting",
		slog.String("user_id", userID),
		slog.Int("tables", len(e.tables)),
	)

	// Upload strictly before download. Pending local rows reach the
	// remote first, so the download pass observes the remote's
	// post-merge state and LWW resolves each id once per cycle.
	if err := e.runPass(ctx, "upload", &report, e.uploadTable); err != nil {
		e.logCycleDone(report, start, err)
		return report, err
	}

	if !report.Aborted {
		download := func(ctx context.Context, t schema.Table, rep *TableReport) error {
			return e.downloadTable(ctx, t, userID, rep)
		}
		if err := e.runPass(ctx, "download", &report, download); err != nil {
			e.logCycleDone(report, start, err)
			return report, err
		}
	}

	if !report.Aborted {
		if err := e.store.SetLastSync(ctx, e.clock()); err != nil {
			e.logger.Warn("recording last sync time failed",
				slog.String("error", err.Error()))
		}
	}

	e.logCycleDone(report, start, nil)

	return report, nil
}

// passFunc runs one pass over one table, accumulating counters.
type passFunc func(ctx context.Context, t schema.Table, rep *TableReport) error

// runPass walks the tables in order, containing failures at the table
// boundary. A store or transport failure on one table is counted and
// logged, then the next table runs. Cancellation marks the report
// aborted and stops quietly; an auth rejection additionally returns the
// error so the caller can surface it.
func (e *Engine) runPass(ctx context.Context, op string, report *Report, fn passFunc) error {
	for _, t := range e.tables {
		if ctx.Err() != nil {
			report.Aborted = true
			return nil
		}

		rep := report.PerTable[t.Name]
		err := fn(ctx, t, &rep)
		if err != nil && !isCanceled(err) && !isAuthErr(err) {
			rep.Errors++
		}
		report.PerTable[t.Name] = rep

		switch {
		case err == nil:
		case isCanceled(err):
			report.Aborted = true
			return nil
		case isAuthErr(err):
			report.Aborted = true
			return err
		default:
			e.logger.Error("table sync failed, continuing with next table",
				slog.String("table", t.Name),
				slog.String("op", op),
				slog.String("kind", "table"),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

func (e *Engine) logCycleDone(report Report, start time.Time, err error) {
	totals := report.Totals()
	attrs := []any{
		slog.Duration("duration", time.Since(start)),
		slog.Int("uploaded", totals.Uploaded),
		slog.Int("downloaded", totals.Downloaded),
		slog.Int("conflicts", totals.Conflicts),
		slog.Int("skipped", totals.Skipped),
		slog.Int("errors", totals.Errors),
		slog.Bool("aborted", report.Aborted),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		e.logger.Error("sync cycle aborted", attrs...)
		return
	}

	e.logger.Info("sync cycle complete", attrs...)
}
