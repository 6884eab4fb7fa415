package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/schema"
)

// defaultLsLimit is how many rows ls shows without -n.
const defaultLsLimit = 20

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <table>",
		Short: "List the newest local rows of a table",
		Long: `List recent rows from the local store, newest first. Table must be one
of: ` + strings.Join(schema.TableNames(), ", ") + `.`,
		Args: cobra.ExactArgs(1),
		RunE: runLs,
	}

	cmd.Flags().IntP("limit", "n", defaultLsLimit, "maximum rows to show")

	return cmd
}

func runLs(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	table := args[0]

	if _, ok := schema.ByName(table); !ok {
		return fmt.Errorf("unknown table %q (known: %s)", table, strings.Join(schema.TableNames(), ", "))
	}

	limit, _ := cmd.Flags().GetInt("limit")
	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.Recent(ctx, table, limit)
	if err != nil {
		return err
	}

	if flagJSON {
		return printRecordsJSON(recs)
	}

	if len(recs) == 0 {
		fmt.Printf("No %s recorded.\n", table)

		return nil
	}

	headers := []string{"ID", "UPDATED", "SYNCED", "SUMMARY"}
	rows := make([][]string, len(recs))

	for i, rec := range recs {
		rows[i] = []string{
			shortID(rec.ID),
			formatStamp(rec.UpdatedAt),
			yesNo(rec.Synced),
			summarize(table, rec),
		}
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

// printRecordsJSON emits rows as the local store sees them: envelope
// columns plus payload fields under their local names, flattened into
// one object per row.
func printRecordsJSON(recs []schema.Record) error {
	items := make([]map[string]any, len(recs))

	for i, rec := range recs {
		item := map[string]any{
			schema.ColID:        rec.ID,
			schema.ColUserID:    rec.UserID,
			schema.ColCreatedAt: rec.CreatedAt,
			schema.ColUpdatedAt: rec.UpdatedAt,
			schema.ColSynced:    rec.Synced,
		}

		for k, v := range rec.Fields {
			item[k] = v
		}

		items[i] = item
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// summarize renders the table-specific gist of one row for ls output.
func summarize(table string, rec schema.Record) string {
	f := rec.Fields

	switch table {
	case "workout_logs":
		return str(f["workoutName"])
	case "sets":
		return fmt.Sprintf("%s %gkg x %d", str(f["exerciseName"]), num(f["weight"]), intVal(f["reps"]))
	case "runs":
		return fmt.Sprintf("%.2f km in %.0f s", num(f["distance"]), num(f["duration"]))
	case "messages":
		return fmt.Sprintf("[%s] %s", str(f["sender"]), truncate(str(f["text"]), 48))
	case "readiness_scores":
		return fmt.Sprintf("%s %d/10", str(f["type"]), intVal(f["score"]))
	case "pr_history":
		return fmt.Sprintf("%s 1RM %.1fkg", str(f["exerciseName"]), num(f["oneRM"]))
	default:
		return ""
	}
}

func str(v any) string {
	s, _ := v.(string)

	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func intVal(v any) int64 {
	n, _ := v.(int64)

	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-1] + "…"
}
