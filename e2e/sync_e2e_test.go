//go:build e2e

package e2e

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Category 1: Basic Sync Operations
// =============================================================================

func TestSyncE2E_InitialUpload(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Log two workouts and a chat message; everything starts local and
	// pending, the backend has nothing.
	pushID := env.logWorkout("Push Day")
	pullID := env.logWorkout("Pull Day")
	msgID := env.logMessage("Felt strong today")

	report := env.runSyncJSON()

	require.False(t, report.Aborted)
	assert.Equal(t, syncCounts{Uploaded: 3}, report.Totals)
	assert.Equal(t, syncCounts{Uploaded: 2}, report.Tables["workout_logs"])
	assert.Equal(t, syncCounts{Uploaded: 1}, report.Tables["messages"])

	// All three rows should exist remotely, owned by the session user.
	assert.Len(t, env.remoteRows("workout_logs"), 2)
	row := env.remoteRow("workout_logs", pushID)
	assert.Equal(t, "Push Day", row["workout_name"])
	assert.Equal(t, env.userID, row["user_id"])
	env.remoteRow("workout_logs", pullID)

	msg := env.remoteRow("messages", msgID)
	assert.Equal(t, "Felt strong today", msg["text"])

	// Upload acknowledgment flips the local flag.
	assert.True(t, env.localRow("workout_logs", pushID).Synced)
	assert.True(t, env.localRow("messages", msgID).Synced)
}

func TestSyncE2E_InitialDownload(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Stage 3 rows remotely, as if another device had synced them.
	base := nowMS() - 60_000
	workoutID, runID, readinessID := newID(), newID(), newID()
	env.seedRemote("workout_logs", env.wireWorkout(workoutID, base, "Track Intervals"))
	env.seedRemote("runs", env.wireRun(runID, base))
	env.seedRemote("readiness_scores", env.wireReadiness(readinessID, base, 8))

	report := env.runSyncJSON()

	require.False(t, report.Aborted)
	assert.Equal(t, syncCounts{Downloaded: 3}, report.Totals)

	// Rows arrive locally with payload intact and the synced flag set, so
	// they never bounce back up.
	workout := env.localRow("workout_logs", workoutID)
	assert.Equal(t, "Track Intervals", workout.Fields["workoutName"])
	assert.Equal(t, base, workout.UpdatedAt)
	assert.True(t, workout.Synced, "downloaded rows must not re-upload")

	run := env.localRow("runs", runID)
	assert.Equal(t, 8.2, run.Fields["distance"])
	assert.Equal(t, "[]", run.Fields["route"])

	readiness := env.localRow("readiness_scores", readinessID)
	assert.Equal(t, int64(8), readiness.Fields["score"])
}

func TestSyncE2E_BidirectionalMerge(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// One row remote-only, one row local-only.
	remoteID := newID()
	env.seedRemote("workout_logs", env.wireWorkout(remoteID, nowMS()-30_000, "Morning Row"))
	localID := env.logMessage("Done with intervals")

	report := env.runSyncJSON()

	assert.Equal(t, 1, report.Totals.Uploaded)
	assert.Equal(t, 1, report.Totals.Downloaded)
	assert.Equal(t, 0, report.Totals.Conflicts)

	// Both rows should exist on both sides.
	assert.True(t, env.localExists("workout_logs", remoteID))
	env.remoteRow("messages", localID)
}

func TestSyncE2E_AlreadyInSync(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	env.logWorkout("Leg Day")
	env.seedRemote("messages", env.wireMessage(newID(), nowMS()-30_000, "Keep the cadence up"))
	env.runSync()

	// A second cycle with nothing new on either side moves nothing.
	report := env.runSyncJSON()

	assert.Equal(t, syncCounts{}, report.Totals, "converged stores should exchange no rows")
	assert.False(t, report.Aborted)
}

func TestSyncE2E_MultipleCycles(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Cycle 1: a local message goes up.
	msgID := env.logMessage("First draft")
	report := env.runSyncJSON()
	assert.Equal(t, syncCounts{Uploaded: 1}, report.Totals)

	// Cycle 2: a remote workout comes down.
	workoutID := newID()
	env.seedRemote("workout_logs", env.wireWorkout(workoutID, nowMS(), "Hill Repeats"))
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{Downloaded: 1}, report.Totals)

	// Cycle 3: a local edit to the synced message goes up again. The
	// stamp must move strictly forward or the remote merge keeps the old
	// version.
	stored := env.localRow("messages", msgID)
	env.editLocal("messages", msgID, stored.UpdatedAt+1, func(rec *record) {
		rec.Fields["text"] = "Final version"
	})

	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{Uploaded: 1}, report.Totals)
	assert.Equal(t, "Final version", env.remoteRow("messages", msgID)["text"])

	// Cycle 4: nothing left to move.
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{}, report.Totals)
}

// =============================================================================
// Category 2: Last-Write-Wins Resolution
// =============================================================================

func TestSyncE2E_RemoteNewerWinsBothSides(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// The same run edited on two devices: this device at base (distance
	// 5.0, pending), the other device 5 seconds later (distance 8.2,
	// already on the backend).
	base := nowMS() - 10_000
	id := newID()
	env.createLocal("runs", env.runRecord(id, base))
	env.seedRemote("runs", env.wireRun(id, base+5_000))

	report := env.runSyncJSON()

	// The stale upload is acknowledged without effect, then the newer
	// remote version comes down. Not a conflict: the local edit had its
	// chance to upload and lost on timestamps only.
	assert.Equal(t, 1, report.Totals.Uploaded)
	assert.Equal(t, 1, report.Totals.Downloaded)
	assert.Equal(t, 0, report.Totals.Conflicts)

	local := env.localRow("runs", id)
	assert.Equal(t, 8.2, local.Fields["distance"], "newer remote payload should win locally")
	assert.Equal(t, base+5_000, local.UpdatedAt)
	assert.True(t, local.Synced)

	remote := env.remoteRow("runs", id)
	assert.Equal(t, 8.2, remote["distance"], "stale upload must not clobber the newer remote row")
}

func TestSyncE2E_LocalNewerWinsBothSides(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Reversed stamps: the backend has the older version.
	base := nowMS() - 10_000
	id := newID()
	env.seedRemote("runs", env.wireRun(id, base))
	env.createLocal("runs", env.runRecord(id, base+5_000))

	report := env.runSyncJSON()

	// The upload replaces the remote row; nothing newer remains to
	// download.
	assert.Equal(t, 1, report.Totals.Uploaded)
	assert.Equal(t, 0, report.Totals.Downloaded)
	assert.Equal(t, 0, report.Totals.Conflicts)

	remote := env.remoteRow("runs", id)
	assert.Equal(t, 5.0, remote["distance"], "newer local payload should win remotely")

	local := env.localRow("runs", id)
	assert.Equal(t, 5.0, local.Fields["distance"])
	assert.True(t, local.Synced)
}

func TestSyncE2E_EqualStampsHoldBothSides(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Identical updated_at with divergent payloads. Ties favor the copy
	// each side already has, so the divergence persists until one side is
	// edited again; what must NOT happen is a ping-pong of overwrites.
	base := nowMS() - 10_000
	id := newID()
	env.seedRemote("runs", env.wireRun(id, base))
	env.createLocal("runs", env.runRecord(id, base))

	report := env.runSyncJSON()

	assert.Equal(t, 1, report.Totals.Uploaded)
	assert.Equal(t, 0, report.Totals.Downloaded)
	assert.Equal(t, 0, report.Totals.Conflicts)

	local := env.localRow("runs", id)
	assert.Equal(t, 5.0, local.Fields["distance"], "tie keeps the local payload")
	assert.True(t, local.Synced)

	remote := env.remoteRow("runs", id)
	assert.Equal(t, 8.2, remote["distance"], "tie keeps the remote payload")
}

func TestSyncE2E_BlockedUploadAuditsConflict(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// A local edit that cannot upload (corrupt stored JSON fails the
	// codec) while the backend already has a newer version. The pending
	// edit is still pending when the newer row comes down, so the
	// overwrite is a real conflict and gets audited.
	base := nowMS() - 10_000
	id := newID()
	poisoned := env.runRecord(id, base)
	poisoned.Fields["route"] = `{"lat":`
	env.createLocal("runs", poisoned)
	env.seedRemote("runs", env.wireRun(id, base+5_000))

	report := env.runSyncJSON()

	assert.Equal(t, 0, report.Totals.Uploaded)
	assert.Equal(t, 1, report.Totals.Skipped, "unencodable row should be skipped, not retried")
	assert.Equal(t, 1, report.Totals.Downloaded)
	assert.Equal(t, 1, report.Totals.Conflicts, "losing a pending edit must be audited")

	// The newer remote payload replaced the poisoned row.
	local := env.localRow("runs", id)
	assert.Equal(t, "[]", local.Fields["route"])
	assert.True(t, local.Synced)

	// The audit trail names the row.
	stdout, _ := env.runCLI("conflicts")
	assert.Contains(t, stdout, "runs")
	assert.Contains(t, stdout, id[:8])
	assert.NotContains(t, stdout, "No conflicts recorded.")
}

// =============================================================================
// Category 3: Watermarks and Table Selection
// =============================================================================

func TestSyncE2E_WatermarkSkipsBackfilledRows(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// First cycle establishes the watermark at the newest local stamp.
	firstID := newID()
	watermark := nowMS() - 60_000
	env.seedRemote("messages", env.wireMessage(firstID, watermark, "Newest"))
	report := env.runSyncJSON()
	require.Equal(t, 1, report.Totals.Downloaded)

	// A row stamped before the watermark appears remotely (a backfill or
	// an import). Incremental download filters strictly above the
	// watermark, so it is invisible until something bumps it.
	backfillID := newID()
	env.seedRemote("messages", env.wireMessage(backfillID, watermark-30_000, "Backfilled"))

	report = env.runSyncJSON()

	assert.Equal(t, 0, report.Totals.Downloaded, "rows below the watermark are not re-fetched")
	assert.False(t, env.localExists("messages", backfillID))
	assert.EqualValues(t, 1, env.countLocal("messages"))
}

func TestSyncE2E_TableSubsetSyncsOnly(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{tables: []string{"messages"}})

	workoutID := env.logWorkout("Should Stay Local")
	msgID := env.logMessage("Should Upload")

	report := env.runSyncJSON()

	// Only the configured table appears in the report or moves rows.
	assert.Equal(t, syncCounts{Uploaded: 1}, report.Totals)
	assert.Contains(t, report.Tables, "messages")
	assert.NotContains(t, report.Tables, "workout_logs")

	env.remoteRow("messages", msgID)
	assert.Empty(t, env.remoteRows("workout_logs"))
	assert.False(t, env.localRow("workout_logs", workoutID).Synced,
		"tables outside the subset must stay pending")
}

// =============================================================================
// Category 4: Sessions and Accounts
// =============================================================================

func TestSyncE2E_ExpiredTokenRefreshesAndRotates(t *testing.T) {
	// One-second access tokens: expired (within the refresh-early window)
	// by the time the first REST call goes out.
	env := newSyncEnv(t, syncEnvOpts{tokenTTL: time.Second})

	before := env.savedRefreshToken()
	require.NotEmpty(t, before)

	env.logMessage("Refresh me")
	report := env.runSyncJSON()
	assert.Equal(t, 1, report.Totals.Uploaded, "sync should succeed across a token refresh")

	// GoTrue rotates the refresh token on every grant, and the rotated
	// token must be persisted or the next process is signed out.
	after := env.savedRefreshToken()
	assert.NotEmpty(t, after)
	assert.NotEqual(t, before, after, "rotated refresh token must be saved")
}

func TestSyncE2E_StoreRefusesSecondAccount(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	env.logWorkout("Alice's Workout")
	env.runSync()

	// Same device, different account: the store keeps the first user's
	// data and refuses to mix in another account's rows.
	env.runCLI("logout")
	env.srv.AddUser("bob@example.com", "hunter2")
	env.login("bob@example.com", "hunter2")

	out := env.runCLIExpectError("sync")
	assert.Contains(t, out, "belongs to another account")
}

func TestSyncE2E_SyncWithoutLoginFails(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{noLogin: true})

	out := env.runCLIExpectError("sync")
	assert.Contains(t, out, "not logged in")
}

// =============================================================================
// Category 5: Watch Mode
// =============================================================================

func TestSyncE2E_WatchDownloadsAndStopsCleanly(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{tickInterval: "200ms"})

	proc := env.startWatch()

	// The daemon writes its pidfile before the first cycle.
	require.True(t, pollUntil(t, pollTimeout, func() bool {
		stdout, _, err := env.runCLIRaw("", "status")
		return err == nil && strings.Contains(stdout, "running (pid")
	}), "status should report the daemon")

	// A remote row seeded while the daemon runs arrives within a few
	// ticks, no manual sync.
	id := newID()
	env.seedRemote("messages", env.wireMessage(id, nowMS(), "Pushed from the backend"))

	require.True(t, pollUntil(t, pollTimeout, func() bool {
		return env.localExists("messages", id)
	}), "watch mode should download the seeded row on its own")

	_, stderr := proc.stop()
	assert.Contains(t, stderr, "Stopped.")

	stdout, _ := env.runCLI("status")
	assert.Contains(t, stdout, "Daemon:    not running")
}
