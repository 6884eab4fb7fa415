package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXDGOverrides(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG path layout is linux-specific")
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	assert.Equal(t, "/xdg/config/fitsync", DefaultConfigDir())
	assert.Equal(t, "/xdg/data/fitsync", DefaultDataDir())
	assert.Equal(t, "/xdg/state/fitsync", DefaultStateDir())
}

func TestXDGFallbacksToHome(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG path layout is linux-specific")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", "fitsync"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", "fitsync"), DefaultDataDir())
	assert.Equal(t, filepath.Join(home, ".local", "state", "fitsync"), DefaultStateDir())
}

func TestDefaultFilePaths(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG path layout is linux-specific")
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	assert.Equal(t, "/xdg/config/fitsync/config.toml", DefaultConfigPath())
	assert.Equal(t, "/xdg/data/fitsync/fitsync.db", DefaultStorePath())
	assert.Equal(t, "/xdg/state/fitsync/token.json", DefaultTokenPath())
	assert.Equal(t, "/xdg/state/fitsync/fitsync.pid", PIDFilePath())
}
