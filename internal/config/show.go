package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all override layers
// (defaults -> file -> env) have been applied. Token values never
// appear here; the anon key is the public client key, not a secret.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (from %s)\n\n", path)

	ew.printf("[remote]\n")
	ew.printf("  url      = %q\n", cfg.Remote.URL)
	ew.printf("  anon_key = %q\n", cfg.Remote.AnonKey)
	ew.printf("  realtime = %t\n", cfg.Remote.Realtime)
	ew.printf("\n")

	ew.printf("[store]\n")
	ew.printf("  path = %q\n", cfg.Store.Path)
	ew.printf("\n")

	ew.printf("[auth]\n")
	ew.printf("  token_path = %q\n", cfg.Auth.TokenPath)
	ew.printf("\n")

	ew.printf("[sync]\n")
	ew.printf("  tick_interval    = %q\n", cfg.Sync.TickInterval)
	ew.printf("  tables           = [%s]\n", joinQuoted(cfg.Sync.Tables))
	ew.printf("  watermark_column = %q\n", cfg.Sync.WatermarkColumn)
	ew.printf("  watch_local      = %t\n", cfg.Sync.WatchLocal)
	ew.printf("\n")

	ew.printf("[log]\n")
	ew.printf("  level  = %q\n", cfg.Log.Level)
	ew.printf("  format = %q\n", cfg.Log.Format)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
