// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for fitsync. It supports a
// three-layer override chain (defaults -> config file -> environment);
// the CLI adjusts only logging on top of the resolved config.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML
// file. Zero values in the file keep their defaults because decoding
// starts from DefaultConfig. JSON tags serve `config show --json`.
type Config struct {
	Remote RemoteConfig `toml:"remote" json:"remote"`
	Store  StoreConfig  `toml:"store" json:"store"`
	Auth   AuthConfig   `toml:"auth" json:"auth"`
	Sync   SyncConfig   `toml:"sync" json:"sync"`
	Log    LogConfig    `toml:"log" json:"log"`
}

// RemoteConfig locates the Supabase-style backend. URL and AnonKey are
// required by commands that touch the network; local-only commands
// (log, ls, conflicts, pause, resume) work without them.
type RemoteConfig struct {
	URL      string `toml:"url" json:"url"`           // project base, e.g. https://abc.supabase.co
	AnonKey  string `toml:"anon_key" json:"anon_key"` // apikey header value
	Realtime bool   `toml:"realtime" json:"realtime"` // websocket change hints in watch mode
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string `toml:"path" json:"path"` // empty means the platform data dir
}

// AuthConfig locates the session token file.
type AuthConfig struct {
	TokenPath string `toml:"token_path" json:"token_path"` // empty means the platform state dir
}

// SyncConfig controls the sync engine: cycle cadence, which tables move
// and in what order, and how downloads are filtered.
type SyncConfig struct {
	TickInterval    string   `toml:"tick_interval" json:"tick_interval"`       // e.g. "30s"
	Tables          []string `toml:"tables" json:"tables"`                     // subset + order; empty means all
	WatermarkColumn string   `toml:"watermark_column" json:"watermark_column"` // "updated_at" or "created_at"
	WatchLocal      bool     `toml:"watch_local" json:"watch_local"`           // fsnotify hints in watch mode
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`   // debug, info, warn, error
	Format string `toml:"format" json:"format"` // text or json
}

// TickDuration returns the parsed sync.tick_interval. Validate has
// already guaranteed it parses; on a config that skipped validation the
// default is returned.
func (c *Config) TickDuration() time.Duration {
	d, err := time.ParseDuration(c.Sync.TickInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultTickInterval)
	}

	return d
}
