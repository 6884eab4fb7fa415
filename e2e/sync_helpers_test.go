//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/harjula/fitsync-go/internal/devserver"
	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/schema"
	"github.com/harjula/fitsync-go/internal/store"
	"github.com/harjula/fitsync-go/internal/tokenfile"
)

// Fixed credentials for the per-test devserver account. The signing
// secret only has to match between the server and itself; the binary
// never sees it.
const (
	e2eSecret   = "e2e-token-signing-secret"
	e2eAnonKey  = "anon-e2e"
	e2eEmail    = "alice@example.com"
	e2ePassword = "hunter2"
)

// Polling cadence for watch-mode tests. The daemon ticks every few
// hundred milliseconds in these tests, so ten seconds is generous.
const (
	pollInterval = 50 * time.Millisecond
	pollTimeout  = 10 * time.Second
)

// allTables is every syncable table, in sync order.
var allTables = []string{
	"workout_logs", "sets", "runs", "messages", "readiness_scores", "pr_history",
}

// record aliases the local record type so scenario files can shape
// fixtures without importing internal packages themselves.
type record = schema.Record

// syncReport mirrors the JSON output schema from `fitsync sync --json`.
type syncReport struct {
	Tables  map[string]syncCounts `json:"tables"`
	Totals  syncCounts            `json:"totals"`
	Aborted bool                  `json:"aborted"`
}

type syncCounts struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Conflicts  int `json:"conflicts"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// syncEnvOpts configures optional knobs of a sync test environment.
type syncEnvOpts struct {
	tables          []string      // sync.tables subset and order; empty means all
	tickInterval    string        // sync.tick_interval for watch mode
	watermarkColumn string        // sync.watermark_column; empty means updated_at
	tokenTTL        time.Duration // devserver access token lifetime; zero means 1h
	noLogin         bool          // skip the initial login
}

// syncEnv is one isolated test environment: an in-process devserver
// over real HTTP, a TOML config pointing the binary at it, and a local
// store and session file under a temp dir. The binary is driven over
// os/exec like a user would; the devserver and store handles exist so
// tests can stage fixtures and assert on both sides directly.
type syncEnv struct {
	t *testing.T

	srv     *devserver.Server
	backend *httptest.Server
	userID  string

	configPath string
	storePath  string
	tokenPath  string
}

// newSyncEnv creates a fully isolated environment and, unless opts says
// otherwise, signs the binary in as the default account.
func newSyncEnv(t *testing.T, opts syncEnvOpts) *syncEnv {
	t.Helper()

	srv := devserver.New(e2eSecret, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if opts.tokenTTL > 0 {
		srv.TokenTTL = opts.tokenTTL
	}

	userID := srv.AddUser(e2eEmail, e2ePassword)

	backend := httptest.NewServer(srv.Handler())
	t.Cleanup(backend.Close)

	tmpRoot := t.TempDir()

	env := &syncEnv{
		t:          t,
		srv:        srv,
		backend:    backend,
		userID:     userID,
		configPath: filepath.Join(tmpRoot, "config.toml"),
		storePath:  filepath.Join(tmpRoot, "fitsync.db"),
		tokenPath:  filepath.Join(tmpRoot, "session.json"),
	}

	writeTestConfig(t, env, opts)

	if !opts.noLogin {
		env.login(e2eEmail, e2ePassword)
	}

	return env
}

// writeTestConfig writes the environment's TOML config file.
func writeTestConfig(t *testing.T, env *syncEnv, opts syncEnvOpts) {
	t.Helper()

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "[remote]\nurl = %q\nanon_key = %q\n\n", env.backend.URL, e2eAnonKey)
	fmt.Fprintf(&buf, "[store]\npath = %q\n\n", env.storePath)
	fmt.Fprintf(&buf, "[auth]\ntoken_path = %q\n", env.tokenPath)

	var sync []string

	if opts.tickInterval != "" {
		sync = append(sync, fmt.Sprintf("tick_interval = %q", opts.tickInterval))
	}

	if len(opts.tables) > 0 {
		sync = append(sync, fmt.Sprintf("tables = [%s]", quotedSlice(opts.tables)))
	}

	if opts.watermarkColumn != "" {
		sync = append(sync, fmt.Sprintf("watermark_column = %q", opts.watermarkColumn))
	}

	if len(sync) > 0 {
		fmt.Fprintf(&buf, "\n[sync]\n%s\n", strings.Join(sync, "\n"))
	}

	require.NoError(t, os.WriteFile(env.configPath, buf.Bytes(), 0o600))
}

// quotedSlice formats a string slice as a TOML inline array: "a", "b".
func quotedSlice(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}

// --- CLI runners ---

// runBinary executes the binary with the given args as-is, no config
// injected. Isolation tests use it to exercise default path resolution.
func runBinary(stdin string, args ...string) (string, string, error) {
	cmd := exec.Command(binaryPath, args...)

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// runCLIRaw runs one command against this environment and returns
// stdout, stderr, and error. Does not fail on non-zero exit codes.
func (env *syncEnv) runCLIRaw(stdin string, args ...string) (string, string, error) {
	env.t.Helper()

	fullArgs := append([]string{"--config", env.configPath}, args...)
	stdout, stderr, err := runBinary(stdin, fullArgs...)

	// Always log stderr so debug output appears in go test -v, even for
	// passing tests.
	if stderr != "" {
		env.t.Logf("%s stderr:\n%s", args[0], stderr)
	}

	return stdout, stderr, err
}

// runCLI runs one command expecting success and returns stdout, stderr.
func (env *syncEnv) runCLI(args ...string) (string, string) {
	env.t.Helper()

	stdout, stderr, err := env.runCLIRaw("", args...)
	if err != nil {
		env.t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

// runCLIInput is runCLI with piped stdin, for prompting commands.
func (env *syncEnv) runCLIInput(stdin string, args ...string) (string, string) {
	env.t.Helper()

	stdout, stderr, err := env.runCLIRaw(stdin, args...)
	if err != nil {
		env.t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

// runCLIExpectError runs one command expecting a non-zero exit code and
// returns combined stdout+stderr for assertions.
func (env *syncEnv) runCLIExpectError(args ...string) string {
	env.t.Helper()

	stdout, stderr, err := env.runCLIRaw("", args...)
	require.Error(env.t, err, "expected %v to fail but it succeeded\nstdout: %s\nstderr: %s",
		args, stdout, stderr)

	return stdout + stderr
}

// runSync runs one sync cycle expecting success.
func (env *syncEnv) runSync() (string, string) {
	env.t.Helper()

	return env.runCLI("--verbose", "sync")
}

// runSyncJSON runs one sync cycle with --json and parses the report.
func (env *syncEnv) runSyncJSON() *syncReport {
	env.t.Helper()

	stdout, _ := env.runCLI("--verbose", "--json", "sync")

	var report syncReport
	require.NoError(env.t, json.Unmarshal([]byte(stdout), &report),
		"failed to parse sync JSON output: %s", stdout)

	return &report
}

// login signs the binary in through the real login command, password on
// stdin like an interactive user piping it in.
func (env *syncEnv) login(email, password string) {
	env.t.Helper()
	env.runCLIInput(password+"\n", "login", "--email", email)
}

// logWorkout logs one workout through the CLI and returns the new id.
func (env *syncEnv) logWorkout(name string) string {
	env.t.Helper()

	stdout, _ := env.runCLI("log", "workout", "--name", name)

	return strings.TrimSpace(stdout)
}

// logMessage logs one chat message through the CLI and returns the id.
func (env *syncEnv) logMessage(text string) string {
	env.t.Helper()

	stdout, _ := env.runCLI("log", "message", "--text", text)

	return strings.TrimSpace(stdout)
}

// --- Watch mode ---

// watchProc is a running `sync --watch` daemon.
type watchProc struct {
	t      *testing.T
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	done   chan error
}

// startWatch launches the watch daemon in the background. Callers must
// call stop before the test ends.
func (env *syncEnv) startWatch() *watchProc {
	env.t.Helper()

	cmd := exec.Command(binaryPath, "--config", env.configPath, "--verbose", "sync", "--watch")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	require.NoError(env.t, cmd.Start(), "starting sync --watch")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	return &watchProc{t: env.t, cmd: cmd, stdout: &stdout, stderr: &stderr, done: done}
}

// stop interrupts the daemon and waits for a clean exit, returning its
// output. Kills the process if it ignores the signal.
func (p *watchProc) stop() (string, string) {
	p.t.Helper()

	require.NoError(p.t, p.cmd.Process.Signal(os.Interrupt))

	select {
	case err := <-p.done:
		require.NoError(p.t, err, "watch daemon should exit cleanly on interrupt\nstderr: %s", p.stderr.String())
	case <-time.After(pollTimeout):
		_ = p.cmd.Process.Kill()
		p.t.Fatalf("watch daemon did not exit within %s\nstderr: %s", pollTimeout, p.stderr.String())
	}

	return p.stdout.String(), p.stderr.String()
}

// pollUntil retries cond until it returns true or the timeout elapses.
func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}

		time.Sleep(pollInterval)
	}

	return cond()
}

// --- Remote fixtures and assertions (in-process devserver handles) ---

// seedRemote stages one wire row on the devserver, as if another device
// had uploaded it.
func (env *syncEnv) seedRemote(table string, row map[string]any) {
	env.t.Helper()
	require.NoError(env.t, env.srv.Seed(table, row))
}

// remoteRows snapshots one remote table, ordered by id.
func (env *syncEnv) remoteRows(table string) []map[string]any {
	return env.srv.Rows(table)
}

// remoteRow fetches one remote row, failing the test when absent.
func (env *syncEnv) remoteRow(table, id string) map[string]any {
	env.t.Helper()

	row, ok := env.srv.Row(table, id)
	require.True(env.t, ok, "remote %s row %s not found", table, id)

	return row
}

// savedRefreshToken reads the refresh token out of the session file, or
// empty when no session is saved.
func (env *syncEnv) savedRefreshToken() string {
	env.t.Helper()

	tok, _, err := tokenfile.Load(env.tokenPath)
	require.NoError(env.t, err)

	if tok == nil {
		return ""
	}

	return tok.RefreshToken
}

// --- Local store fixtures and assertions ---

// withStore opens the environment's database for the duration of fn.
// The handle is scoped tightly so the binary never contends with the
// test process for longer than one fixture write.
func (env *syncEnv) withStore(fn func(ctx context.Context, st *store.Store)) {
	env.t.Helper()

	ctx := context.Background()

	st, err := store.Open(ctx, env.storePath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(env.t, err)
	defer st.Close()

	fn(ctx, st)
}

// createLocal writes one record directly into the local store, as if
// the app had logged it. Unlike the log commands the caller controls
// the id and timestamps.
func (env *syncEnv) createLocal(table string, rec record) {
	env.t.Helper()

	env.withStore(func(ctx context.Context, st *store.Store) {
		require.NoError(env.t, st.Create(ctx, table, rec))
	})
}

// editLocal applies a local mutation with app semantics: bump
// updated_at to the given stamp and clear the synced flag.
func (env *syncEnv) editLocal(table, id string, updatedMS int64, mutate func(*record)) {
	env.t.Helper()

	env.withStore(func(ctx context.Context, st *store.Store) {
		require.NoError(env.t, st.Update(ctx, table, id, func(rec *schema.Record) error {
			mutate(rec)
			rec.UpdatedAt = updatedMS
			rec.Synced = false

			return nil
		}))
	})
}

// localRow reads one record from the local store, failing when absent.
func (env *syncEnv) localRow(table, id string) record {
	env.t.Helper()

	var rec record

	env.withStore(func(ctx context.Context, st *store.Store) {
		got, err := st.Get(ctx, table, id)
		require.NoError(env.t, err)
		rec = got
	})

	return rec
}

// localExists reports whether a record exists in the local store.
func (env *syncEnv) localExists(table, id string) bool {
	env.t.Helper()

	found := false

	env.withStore(func(ctx context.Context, st *store.Store) {
		_, err := st.Get(ctx, table, id)
		found = err == nil
	})

	return found
}

// countLocal returns the number of local rows in a table.
func (env *syncEnv) countLocal(table string) int64 {
	env.t.Helper()

	var n int64

	env.withStore(func(ctx context.Context, st *store.Store) {
		count, err := st.Count(ctx, table)
		require.NoError(env.t, err)
		n = count
	})

	return n
}

// --- Record and wire row builders ---

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func wireTime(ms int64) string {
	return postgrest.FormatTime(ms)
}

// wireRow assembles the envelope of a remote fixture row. created_at
// and updated_at share the stamp; Seed callers override as needed.
func (env *syncEnv) wireRow(id string, ms int64, payload map[string]any) map[string]any {
	row := map[string]any{
		"id":         id,
		"user_id":    env.userID,
		"created_at": wireTime(ms),
		"updated_at": wireTime(ms),
	}

	for k, v := range payload {
		row[k] = v
	}

	return row
}

func (env *syncEnv) wireWorkout(id string, ms int64, name string) map[string]any {
	return env.wireRow(id, ms, map[string]any{
		"workout_name": name,
		"start_time":   wireTime(ms - 3_600_000),
		"end_time":     wireTime(ms - 60_000),
	})
}

func (env *syncEnv) wireRun(id string, ms int64) map[string]any {
	return env.wireRow(id, ms, map[string]any{
		"start_time":         wireTime(ms - 1_800_000),
		"end_time":           wireTime(ms),
		"distance":           8.2,
		"duration":           1800.0,
		"pace":               3.66,
		"avg_speed":          16.4,
		"calories":           520.0,
		"elevation_gain":     40.0,
		"elevation_loss":     35.0,
		"grade_percent":      0.91,
		"terrain_difficulty": "road",
		"route":              json.RawMessage(`[]`),
	})
}

func (env *syncEnv) wireMessage(id string, ms int64, text string) map[string]any {
	return env.wireRow(id, ms, map[string]any{
		"text":         text,
		"sender":       "coach",
		"message_type": "chat",
	})
}

func (env *syncEnv) wireReadiness(id string, ms int64, score int64) map[string]any {
	return env.wireRow(id, ms, map[string]any{
		"date":  wireTime(ms - ms%86_400_000),
		"score": score,
		"type":  "morning",
	})
}

func (env *syncEnv) wireSet(id, workoutID string, ms int64) map[string]any {
	return env.wireRow(id, ms, map[string]any{
		"workout_log_id": workoutID,
		"exercise_id":    "squat",
		"exercise_name":  "Back Squat",
		"weight":         140.0,
		"reps":           int64(3),
	})
}

func (env *syncEnv) wirePR(id, workoutID string, ms int64) map[string]any {
	return env.wireRow(id, ms, map[string]any{
		"exercise_id":    "squat",
		"exercise_name":  "Back Squat",
		"one_rm":         152.7,
		"weight":         140.0,
		"reps":           int64(3),
		"workout_log_id": workoutID,
		"achieved_at":    wireTime(ms),
	})
}

// runRecord builds a pending local run with a full valid payload.
func (env *syncEnv) runRecord(id string, ms int64) record {
	return record{
		ID:        id,
		UserID:    env.userID,
		CreatedAt: ms,
		UpdatedAt: ms,
		Fields: map[string]any{
			"startTime":         ms - 1_800_000,
			"endTime":           ms,
			"distance":          5.0,
			"duration":          1500.0,
			"pace":              5.0,
			"avgSpeed":          12.0,
			"calories":          380.0,
			"elevationGain":     12.0,
			"elevationLoss":     15.0,
			"gradePercent":      0.54,
			"terrainDifficulty": "road",
			"route":             "[]",
		},
	}
}

// messageRecord builds a pending local chat message.
func (env *syncEnv) messageRecord(id string, ms int64, text string) record {
	return record{
		ID:        id,
		UserID:    env.userID,
		CreatedAt: ms,
		UpdatedAt: ms,
		Fields: map[string]any{
			"text":        text,
			"sender":      "user",
			"messageType": "chat",
		},
	}
}

// workoutRecord builds a pending local workout.
func (env *syncEnv) workoutRecord(id string, ms int64, name string) record {
	return record{
		ID:        id,
		UserID:    env.userID,
		CreatedAt: ms,
		UpdatedAt: ms,
		Fields: map[string]any{
			"workoutName": name,
			"startTime":   ms - 3_600_000,
		},
	}
}

// readinessRecord builds a pending local readiness score.
func (env *syncEnv) readinessRecord(id string, ms int64, score int64) record {
	return record{
		ID:        id,
		UserID:    env.userID,
		CreatedAt: ms,
		UpdatedAt: ms,
		Fields: map[string]any{
			"date":  ms - ms%86_400_000,
			"score": score,
			"type":  "morning",
		},
	}
}

// setRecord builds a pending local set under the given workout.
func (env *syncEnv) setRecord(id, workoutID string, ms int64) record {
	return record{
		ID:        id,
		UserID:    env.userID,
		CreatedAt: ms,
		UpdatedAt: ms,
		Fields: map[string]any{
			"workoutLogId": workoutID,
			"exerciseId":   "bench",
			"exerciseName": "Bench Press",
			"weight":       100.0,
			"reps":         int64(5),
		},
	}
}

// prRecord builds a pending local personal record entry.
func (env *syncEnv) prRecord(id, workoutID string, ms int64) record {
	return record{
		ID:        id,
		UserID:    env.userID,
		CreatedAt: ms,
		UpdatedAt: ms,
		Fields: map[string]any{
			"exerciseId":   "bench",
			"exerciseName": "Bench Press",
			"oneRM":        112.5,
			"weight":       100.0,
			"reps":         int64(5),
			"workoutLogId": workoutID,
			"achievedAt":   ms,
		},
	}
}

// newID returns a fresh record id for fixtures.
func newID() string {
	return uuid.NewString()
}
