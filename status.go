package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/config"
	"github.com/harjula/fitsync-go/internal/store"
	"github.com/harjula/fitsync-go/internal/tokenfile"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, daemon, and pending-row status",
		Long: `Display the signed-in account, whether a watch daemon is running,
the paused flag, the last completed sync, and per-table pending counts.

Reads only local state; works offline.`,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	LoggedIn  bool             `json:"logged_in"`
	Email     string           `json:"email,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	StorePath string           `json:"store_path"`
	DaemonPID int              `json:"daemon_pid,omitempty"`
	Paused    bool             `json:"paused"`
	LastSync  int64            `json:"last_sync_ms"`
	Unsynced  map[string]int64 `json:"unsynced"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	out, err := collectStatus(ctx, st)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	printStatusText(os.Stdout, out, isatty.IsTerminal(os.Stdout.Fd()))

	return nil
}

// collectStatus gathers the snapshot from the token file, the pidfile,
// and the store.
func collectStatus(ctx context.Context, st *store.Store) (*statusOutput, error) {
	out := &statusOutput{StorePath: resolvedCfg.Store.Path}

	meta, err := tokenfile.ReadMeta(resolvedCfg.Auth.TokenPath)
	if err != nil {
		return nil, err
	}

	if meta[tokenfile.MetaUserID] != "" {
		out.LoggedIn = true
		out.UserID = meta[tokenfile.MetaUserID]
		out.Email = meta[tokenfile.MetaEmail]
	}

	if pid, alive := daemonAlive(config.PIDFilePath()); alive {
		out.DaemonPID = pid
	}

	if out.Paused, err = st.Paused(ctx); err != nil {
		return nil, err
	}

	if out.LastSync, err = st.LastSync(ctx); err != nil {
		return nil, err
	}

	out.Unsynced = make(map[string]int64)

	for _, name := range syncTableNames(resolvedCfg) {
		n, err := st.CountUnsynced(ctx, name)
		if err != nil {
			return nil, err
		}

		out.Unsynced[name] = n
	}

	return out, nil
}

// printStatusText renders the snapshot: an aligned pending-rows table
// on a terminal, plain rows when piped.
func printStatusText(w io.Writer, out *statusOutput, tty bool) {
	if out.LoggedIn {
		fmt.Fprintf(w, "Account:   %s (%s)\n", out.Email, shortID(out.UserID))
	} else {
		fmt.Fprintln(w, "Account:   not signed in")
	}

	fmt.Fprintf(w, "Store:     %s\n", out.StorePath)

	if out.DaemonPID != 0 {
		fmt.Fprintf(w, "Daemon:    running (pid %d)\n", out.DaemonPID)
	} else {
		fmt.Fprintln(w, "Daemon:    not running")
	}

	fmt.Fprintf(w, "Paused:    %s\n", yesNo(out.Paused))
	fmt.Fprintf(w, "Last sync: %s\n\n", formatAgo(out.LastSync))

	names := syncTableNames(resolvedCfg)

	if tty {
		var total int64

		rows := make([][]string, 0, len(names)+1)
		for _, name := range names {
			rows = append(rows, []string{name, fmt.Sprintf("%d", out.Unsynced[name])})
			total += out.Unsynced[name]
		}

		rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})
		printTable(w, []string{"TABLE", "PENDING"}, rows)

		return
	}

	for _, name := range names {
		fmt.Fprintf(w, "%s %d\n", name, out.Unsynced[name])
	}
}
