package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.URL = "https://abc.supabase.co"
	cfg.Remote.AnonKey = "anon-123"
	cfg.Store.Path = "/data/fitsync.db"
	cfg.Auth.TokenPath = "/state/token.json"
	cfg.Sync.Tables = []string{"workout_logs", "sets"}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/fitsync/config.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "/etc/fitsync/config.toml")
	assert.Contains(t, out, "[remote]")
	assert.Contains(t, out, `url      = "https://abc.supabase.co"`)
	assert.Contains(t, out, "[store]")
	assert.Contains(t, out, `path = "/data/fitsync.db"`)
	assert.Contains(t, out, "[sync]")
	assert.Contains(t, out, `tables           = ["workout_logs", "sets"]`)
	assert.Contains(t, out, `tick_interval    = "30s"`)
	assert.Contains(t, out, "[log]")
	assert.Contains(t, out, `level  = "info"`)

	// Valid TOML-ish section layout: every section on its own line.
	for _, section := range []string{"[remote]", "[store]", "[auth]", "[sync]", "[log]"} {
		assert.True(t, strings.Contains(out, section+"\n"), "section %s", section)
	}
}

// failAfter errors on the nth write, exercising the errWriter short-stop.
type failAfter struct {
	n int
}

func (f *failAfter) Write(p []byte) (int, error) {
	f.n--
	if f.n < 0 {
		return 0, errors.New("pipe closed")
	}

	return len(p), nil
}

func TestRenderEffectiveSurfacesWriteError(t *testing.T) {
	err := RenderEffective(DefaultConfig(), "x.toml", &failAfter{n: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe closed")
}
