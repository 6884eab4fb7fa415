package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// statusf prints a status message to stderr unless --quiet is set.
// Status chatter goes to stderr so stdout stays parseable.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// msTime converts an epoch-millisecond stamp (the store's native time
// shape) to a time.Time in UTC.
func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// formatStamp renders an epoch-ms stamp compactly for table output.
func formatStamp(ms int64) string {
	if ms == 0 {
		return "-"
	}

	t := msTime(ms).Local()
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatAgo renders how long ago an epoch-ms stamp was, for the status
// command ("never", "12s ago", "3m ago", "2h ago", "5d ago").
func formatAgo(ms int64) string {
	if ms == 0 {
		return "never"
	}

	d := time.Since(msTime(ms))
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// idPrefixLen is the number of characters shown for record ids in table
// output. Eight hex characters of a UUID are enough to disambiguate.
const idPrefixLen = 8

// shortID truncates a record id for display.
func shortID(id string) string {
	if len(id) > idPrefixLen {
		return id[:idPrefixLen]
	}

	return id
}

// yesNo renders a boolean flag for table cells.
func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
