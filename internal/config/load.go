package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it. Unknown
// keys are warned about with "did you mean?" suggestions rather than
// rejected, so a config written for a newer version still loads.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	warnUnknownKeys(&md, path, logger)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config populated with all default values. This supports the
// zero-config first run: users can log in and sync without creating a
// config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve applies the full override chain and returns the effective
// config along with the path it came from (for SIGHUP reloads):
//
//	defaults -> config file -> environment
//
// cliPath is the --config flag value; empty falls back to FITSYNC_CONFIG
// and then the platform default. Empty store and token paths are filled
// from the platform directories, so the returned config is ready to use.
func Resolve(cliPath string, logger *slog.Logger) (*Config, string, error) {
	path := DefaultConfigPath()
	if env := os.Getenv(EnvConfig); env != "" {
		path = env
	}

	if cliPath != "" {
		path = cliPath
	}

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, "", err
	}

	applyEnv(cfg)

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if cfg.Auth.TokenPath == "" {
		cfg.Auth.TokenPath = DefaultTokenPath()
	}

	// Env values bypass file validation, so validate the final shape.
	if err := Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("config: %w", err)
	}

	return cfg, path, nil
}
