package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "fitsync"

// File names under the platform directories.
const (
	configFileName = "config.toml"
	storeFileName  = "fitsync.db"
	tokenFileName  = "token.json"
	pidFileName    = "fitsync.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/fitsync).
// On macOS, uses ~/Library/Application Support/fitsync per Apple guidelines.
// Other platforms fall back to ~/.config/fitsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data (the SQLite store).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/fitsync).
// On macOS, uses ~/Library/Application Support/fitsync (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultStateDir returns the platform-specific directory for mutable
// state that should survive restarts but is not user data (the session
// token file, the watch daemon pidfile).
// On Linux, respects XDG_STATE_HOME (defaults to ~/.local/state/fitsync).
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "state", appName)
	}
}

// xdgDir resolves one XDG base directory: the env override if set,
// otherwise the given fallback base, with the app dir appended.
func xdgDir(envVar, fallbackBase string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(fallbackBase, appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is the fallback when neither FITSYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultStorePath returns the full path to the default SQLite store.
func DefaultStorePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, storeFileName)
}

// DefaultTokenPath returns the full path to the default session file.
func DefaultTokenPath() string {
	dir := DefaultStateDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, tokenFileName)
}

// PIDFilePath returns the full path to the watch daemon's pidfile. Lives
// in the state dir next to the session file so `status` can find it.
func PIDFilePath() string {
	dir := DefaultStateDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}
