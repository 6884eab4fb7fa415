package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/config"
	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/schema"
	"github.com/harjula/fitsync-go/internal/session"
	"github.com/harjula/fitsync-go/internal/store"
	"github.com/harjula/fitsync-go/internal/sync"
)

// checkpointTimeout bounds the WAL checkpoint on daemon shutdown.
const checkpointTimeout = 5 * time.Second

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local store with the backend",
		Long: `Run one sync cycle: upload locally pending rows, then download newer
remote rows, table by table. Concurrent edits resolve by last-write-wins.

With --watch, stay in the foreground and sync continuously: on a timer,
when the local store changes, and (if remote.realtime is enabled) when
the backend pushes a change hint. SIGHUP reloads the config; SIGINT or
SIGTERM drains the in-flight cycle and exits.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "keep syncing until interrupted")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := requireRemote(); err != nil {
		return err
	}

	ctx := cmd.Context()

	mgr, err := session.FromPath(ctx, sessionConfig(logger))
	if err != nil {
		return err
	}

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := guardStoreUser(ctx, st, mgr.UserID()); err != nil {
		return err
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return runWatch(ctx, st, mgr, logger)
	}

	// One-shot: a signal aborts the cycle cleanly instead of killing the
	// process mid-row.
	ctx = shutdownContext(ctx, logger)

	orch := newOrchestrator(resolvedCfg, st, mgr, logger, false)

	report, err := orch.FullSync(ctx, mgr.UserID())
	if err != nil {
		return err
	}

	if flagJSON {
		return printReportJSON(report)
	}

	renderReport(os.Stdout, report, syncTableNames(resolvedCfg))

	if report.Aborted {
		statusf("Sync aborted before completion; remaining rows go next cycle.\n")
	}

	return nil
}

// runWatch is the foreground daemon: single instance via pidfile flock,
// orchestrator with observers, SIGHUP config reload.
func runWatch(ctx context.Context, st *store.Store, mgr *session.Manager, logger *slog.Logger) error {
	cleanup, err := writePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = shutdownContext(ctx, logger)

	holder := config.NewHolder(resolvedCfg, resolvedCfgPath)

	reload, stopReload := reloadSignals()
	defer stopReload()

	statusf("Syncing as %s (pid %d). Ctrl-C to stop.\n", mgr.Email(), os.Getpid())

	for {
		orch := newOrchestrator(holder.Config(), st, mgr, logger, true)
		if err := orch.Start(mgr.UserID()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			orch.Stop()
			checkpointStore(st, logger)
			statusf("Stopped.\n")

			return nil

		case <-reload:
			logger.Info("SIGHUP received, reloading config")
			orch.Stop()

			if err := reloadConfig(holder, logger); err != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("error", err.Error()))
			}
		}
	}
}

// newOrchestrator wires the orchestrator from resolved config: postgrest
// client as the remote, wall clock, and (in watch mode) the local store
// observer plus the realtime subscriber.
func newOrchestrator(cfg *config.Config, st *store.Store, mgr *session.Manager, logger *slog.Logger, watch bool) *sync.Orchestrator {
	client := postgrest.NewClient(cfg.Remote.URL, cfg.Remote.AnonKey, defaultHTTPClient(), mgr, logger)

	ocfg := &sync.OrchestratorConfig{
		Store:           st,
		Remote:          client,
		Clock:           sync.WallClock,
		Tables:          cfg.Sync.Tables,
		WatermarkColumn: cfg.Sync.WatermarkColumn,
		TickInterval:    cfg.TickDuration(),
		Logger:          logger,
	}

	if watch {
		ocfg.WatchLocal = cfg.Sync.WatchLocal
		ocfg.StorePath = cfg.Store.Path

		if cfg.Remote.Realtime {
			ocfg.Realtime = postgrest.NewRealtime(cfg.Remote.URL, cfg.Remote.AnonKey, mgr, logger)
		}
	}

	return sync.NewOrchestrator(ocfg)
}

// guardStoreUser refuses to sync one device database across accounts: a
// store that has synced as user A stays user A's until it is removed.
func guardStoreUser(ctx context.Context, st *store.Store, userID string) error {
	last, err := st.LastUser(ctx)
	if err != nil {
		return err
	}

	if last != "" && last != userID {
		return fmt.Errorf("local store %s belongs to another account (user %s); log in as that user or remove the file",
			resolvedCfg.Store.Path, last)
	}

	return st.SetLastUser(ctx, userID)
}

// reloadConfig re-resolves the config and swaps it into the holder.
// Paths cannot be reopened mid-run, so changes to them wait for a
// restart; everything else applies to the next orchestrator.
func reloadConfig(holder *config.Holder, logger *slog.Logger) error {
	cfg, path, err := config.Resolve(flagConfigPath, logger)
	if err != nil {
		return err
	}

	old := holder.Config()
	if cfg.Store.Path != old.Store.Path || cfg.Auth.TokenPath != old.Auth.TokenPath {
		logger.Warn("store/token paths changed in config; restart the daemon to apply")
		cfg.Store.Path = old.Store.Path
		cfg.Auth.TokenPath = old.Auth.TokenPath
	}

	holder.Update(cfg, path)
	resolvedCfg, resolvedCfgPath = cfg, path

	logger.Info("config reloaded",
		slog.String("path", path),
		slog.Duration("tick_interval", cfg.TickDuration()),
	)

	return nil
}

// checkpointStore consolidates the WAL before the daemon exits so the
// database is a single file for backups.
func checkpointStore(st *store.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	if err := st.Checkpoint(ctx); err != nil {
		logger.Warn("wal checkpoint on shutdown failed", slog.String("error", err.Error()))
	}
}

// syncTableNames returns the effective table order for report rendering.
func syncTableNames(cfg *config.Config) []string {
	if len(cfg.Sync.Tables) > 0 {
		return cfg.Sync.Tables
	}

	return schema.TableNames()
}

// reportJSON is the JSON schema for `sync --json`.
type reportJSON struct {
	Tables  map[string]tableCountsJSON `json:"tables"`
	Totals  tableCountsJSON            `json:"totals"`
	Aborted bool                       `json:"aborted"`
}

type tableCountsJSON struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Conflicts  int `json:"conflicts"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

func countsJSON(tr sync.TableReport) tableCountsJSON {
	return tableCountsJSON{
		Uploaded:   tr.Uploaded,
		Downloaded: tr.Downloaded,
		Conflicts:  tr.Conflicts,
		Skipped:    tr.Skipped,
		Errors:     tr.Errors,
	}
}

func printReportJSON(report sync.Report) error {
	out := reportJSON{
		Tables:  make(map[string]tableCountsJSON, len(report.PerTable)),
		Totals:  countsJSON(report.Totals()),
		Aborted: report.Aborted,
	}

	for name, tr := range report.PerTable {
		out.Tables[name] = countsJSON(tr)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// renderReport prints the per-table cycle counters in sync order, with
// a totals row.
func renderReport(w io.Writer, report sync.Report, order []string) {
	headers := []string{"TABLE", "UPLOADED", "DOWNLOADED", "CONFLICTS", "SKIPPED", "ERRORS"}

	var rows [][]string

	for _, name := range order {
		tr, ok := report.PerTable[name]
		if !ok {
			continue
		}

		rows = append(rows, reportRow(name, tr))
	}

	rows = append(rows, reportRow("total", report.Totals()))

	printTable(w, headers, rows)
}

func reportRow(name string, tr sync.TableReport) []string {
	return []string{
		name,
		strconv.Itoa(tr.Uploaded),
		strconv.Itoa(tr.Downloaded),
		strconv.Itoa(tr.Conflicts),
		strconv.Itoa(tr.Skipped),
		strconv.Itoa(tr.Errors),
	}
}
