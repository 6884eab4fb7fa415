package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/harjula/fitsync-go/internal/store"
	"github.com/harjula/fitsync-go/internal/tokenfile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cliEnv is an isolated environment for command tests: a temp config
// file pointing the store and token paths into the temp dir, so no
// command touches the host's real files.
type cliEnv struct {
	configPath string
	storePath  string
	tokenPath  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	saveGlobals(t)

	dir := t.TempDir()
	env := &cliEnv{
		configPath: filepath.Join(dir, "config.toml"),
		storePath:  filepath.Join(dir, "fitsync.db"),
		tokenPath:  filepath.Join(dir, "token.json"),
	}

	env.writeConfig(t, "")

	return env
}

// writeConfig writes the env's config file with the standard paths plus
// any extra TOML appended (e.g. a [remote] section).
func (e *cliEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()

	body := fmt.Sprintf("[store]\npath = %q\n\n[auth]\ntoken_path = %q\n%s",
		e.storePath, e.tokenPath, extra)
	require.NoError(t, os.WriteFile(e.configPath, []byte(body), 0o600))
}

// signIn writes a saved session so commands that need an identity work
// without a network.
func (e *cliEnv) signIn(t *testing.T, userID, email string) {
	t.Helper()

	tok := &oauth2.Token{
		AccessToken:  "header.payload.sig",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, tokenfile.Save(e.tokenPath, tok, map[string]string{
		tokenfile.MetaUserID: userID,
		tokenfile.MetaEmail:  email,
	}))
}

// run executes one CLI invocation against this environment and returns
// what the command wrote to its cobra output stream.
func (e *cliEnv) run(args ...string) (string, error) {
	cmd := newRootCmd()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--quiet"}, args...))

	err := cmd.Execute()

	return out.String(), err
}

// openStore opens the env's database directly for assertions.
func (e *cliEnv) openStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), e.storePath, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}
