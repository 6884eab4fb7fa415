package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/session"
	"github.com/harjula/fitsync-go/internal/store"
)

// errVerifyDrift signals mismatched row counts; main maps it to exit
// code 1 without the generic error banner.
var errVerifyDrift = errors.New("verify: local and remote row counts differ")

// Per-table verification states.
const (
	verifyOK      = "ok"      // counts match
	verifyPending = "pending" // counts differ but unsynced rows explain it
	verifyDrift   = "drift"   // counts differ with nothing pending
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Compare local and remote row counts",
		Long: `Count rows per table locally and remotely and report differences.
A difference with pending (unsynced) rows is expected; a difference with
nothing pending means the two sides have drifted.

Read-only. Exit code 0 when converged or only pending, 1 on drift.`,
		RunE: runVerify,
	}
}

// verifyRow is one table's comparison, also the JSON schema for --json.
type verifyRow struct {
	Table   string `json:"table"`
	Local   int64  `json:"local"`
	Remote  int64  `json:"remote"`
	Pending int64  `json:"pending"`
	Status  string `json:"status"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
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

	client := postgrest.NewClient(resolvedCfg.Remote.URL, resolvedCfg.Remote.AnonKey,
		defaultHTTPClient(), mgr, logger)

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}

	rows, err := collectVerifyRows(ctx, st, client, mgr.UserID())
	if err != nil {
		return err
	}

	if flagJSON {
		if err := printVerifyJSON(rows); err != nil {
			return err
		}
	} else {
		printVerifyTable(rows)
	}

	for _, r := range rows {
		if r.Status == verifyDrift {
			return errVerifyDrift
		}
	}

	return nil
}

func collectVerifyRows(ctx context.Context, st *store.Store, client *postgrest.Client, userID string) ([]verifyRow, error) {
	names := syncTableNames(resolvedCfg)
	rows := make([]verifyRow, 0, len(names))

	for _, name := range names {
		local, err := st.Count(ctx, name)
		if err != nil {
			return nil, err
		}

		pending, err := st.CountUnsynced(ctx, name)
		if err != nil {
			return nil, err
		}

		remote, err := client.Count(ctx, name, userID)
		if err != nil {
			return nil, fmt.Errorf("counting remote %s: %w", name, err)
		}

		status := verifyOK

		if local != remote {
			status = verifyDrift
			if pending > 0 {
				status = verifyPending
			}
		}

		rows = append(rows, verifyRow{
			Table:   name,
			Local:   local,
			Remote:  remote,
			Pending: pending,
			Status:  status,
		})
	}

	return rows, nil
}

func printVerifyJSON(rows []verifyRow) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printVerifyTable(rows []verifyRow) {
	headers := []string{"TABLE", "LOCAL", "REMOTE", "PENDING", "STATUS"}
	cells := make([][]string, len(rows))

	for i, r := range rows {
		cells[i] = []string{
			r.Table,
			strconv.FormatInt(r.Local, 10),
			strconv.FormatInt(r.Remote, 10),
			strconv.FormatInt(r.Pending, 10),
			r.Status,
		}
	}

	printTable(os.Stdout, headers, cells)
}
