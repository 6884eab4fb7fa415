package config

import "os"

// Environment variable names for overrides. Environment wins over the
// config file but loses to nothing (there are no per-value CLI flags).
const (
	EnvConfig    = "FITSYNC_CONFIG"
	EnvRemoteURL = "FITSYNC_REMOTE_URL"
	EnvAnonKey   = "FITSYNC_REMOTE_ANON_KEY"
	EnvStorePath = "FITSYNC_STORE_PATH"
	EnvTokenPath = "FITSYNC_TOKEN_PATH"
	EnvLogLevel  = "FITSYNC_LOG_LEVEL"
)

// applyEnv overwrites config values from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvRemoteURL); v != "" {
		cfg.Remote.URL = v
	}

	if v := os.Getenv(EnvAnonKey); v != "" {
		cfg.Remote.AnonKey = v
	}

	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv(EnvTokenPath); v != "" {
		cfg.Auth.TokenPath = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}
