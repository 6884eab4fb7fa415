package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string // empty means valid
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "empty remote URL is allowed",
			mutate: func(c *Config) { c.Remote.URL = "" },
		},
		{
			name:   "https URL",
			mutate: func(c *Config) { c.Remote.URL = "https://abc.supabase.co" },
		},
		{
			name:    "ftp URL rejected",
			mutate:  func(c *Config) { c.Remote.URL = "ftp://abc.supabase.co" },
			wantErr: "remote.url",
		},
		{
			name:    "URL without host",
			mutate:  func(c *Config) { c.Remote.URL = "https://" },
			wantErr: "no host",
		},
		{
			name:    "unparseable tick interval",
			mutate:  func(c *Config) { c.Sync.TickInterval = "soon" },
			wantErr: "sync.tick_interval",
		},
		{
			name:    "negative tick interval",
			mutate:  func(c *Config) { c.Sync.TickInterval = "-10s" },
			wantErr: "must be positive",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Sync.TickInterval = "0s" },
			wantErr: "must be positive",
		},
		{
			name:    "bad watermark column",
			mutate:  func(c *Config) { c.Sync.WatermarkColumn = "modified_at" },
			wantErr: "sync.watermark_column",
		},
		{
			name:    "unknown table",
			mutate:  func(c *Config) { c.Sync.Tables = []string{"workout_logs", "step_counts"} },
			wantErr: `unknown table "step_counts"`,
		},
		{
			name:    "duplicate table",
			mutate:  func(c *Config) { c.Sync.Tables = []string{"sets", "sets"} },
			wantErr: "listed twice",
		},
		{
			name:   "table subset in custom order",
			mutate: func(c *Config) { c.Sync.Tables = []string{"runs", "messages"} },
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "logfmt" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblemsAtOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.TickInterval = "never"
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "sync.tick_interval")
	assert.Contains(t, msg, "log.level")
	assert.Contains(t, msg, "log.format")
}
