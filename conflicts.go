package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/store"
)

// defaultConflictsLimit is how many audit entries conflicts shows without -n.
const defaultConflictsLimit = 20

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recent last-write-wins overwrites",
		Long: `Display recent conflict audit entries: rows where a newer remote
version overwrote local edits that had not been uploaded yet. The local
payload is gone; the audit records which row lost and when.`,
		RunE: runConflicts,
	}

	cmd.Flags().IntP("limit", "n", defaultConflictsLimit, "maximum entries to show")

	return cmd
}

// conflictJSON is the JSON-serializable representation of one audit entry.
type conflictJSON struct {
	Table           string `json:"table"`
	RecordID        string `json:"record_id"`
	LocalUpdatedAt  string `json:"local_updated_at"`
	RemoteUpdatedAt string `json:"remote_updated_at"`
	OverwrittenAt   string `json:"overwritten_at"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	limit, _ := cmd.Flags().GetInt("limit")
	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.RecentConflicts(ctx, limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 && !flagJSON {
		fmt.Println("No conflicts recorded.")

		return nil
	}

	if flagJSON {
		return printConflictsJSON(entries)
	}

	printConflictsTable(entries)

	return nil
}

func conflictToJSON(e store.ConflictEntry) conflictJSON {
	return conflictJSON{
		Table:           e.Table,
		RecordID:        e.RecordID,
		LocalUpdatedAt:  msTime(e.LocalUpdatedAt).Format(time.RFC3339),
		RemoteUpdatedAt: msTime(e.RemoteUpdatedAt).Format(time.RFC3339),
		OverwrittenAt:   msTime(e.OverwrittenAt).Format(time.RFC3339),
	}
}

func printConflictsJSON(entries []store.ConflictEntry) error {
	items := make([]conflictJSON, len(entries))
	for i, e := range entries {
		items[i] = conflictToJSON(e)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(entries []store.ConflictEntry) {
	headers := []string{"TABLE", "RECORD", "LOCAL EDIT", "REMOTE EDIT", "OVERWRITTEN"}
	rows := make([][]string, len(entries))

	for i, e := range entries {
		rows[i] = []string{
			e.Table,
			shortID(e.RecordID),
			formatStamp(e.LocalUpdatedAt),
			formatStamp(e.RemoteUpdatedAt),
			formatStamp(e.OverwrittenAt),
		}
	}

	printTable(os.Stdout, headers, rows)
}
