package config

import "github.com/harjula/fitsync-go/internal/schema"

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file.
const (
	defaultTickInterval    = "30s"
	defaultWatermarkColumn = "updated_at"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// DefaultConfig returns a Config populated with all default values.
// It is both the starting point for TOML decoding (so unset fields
// retain defaults) and the fallback when no config file exists.
//
// Store.Path and Auth.TokenPath stay empty here; Resolve fills them
// from the platform directories so a config file can still override
// them with relative or custom paths.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			TickInterval:    defaultTickInterval,
			Tables:          schema.TableNames(),
			WatermarkColumn: defaultWatermarkColumn,
			WatchLocal:      true,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
