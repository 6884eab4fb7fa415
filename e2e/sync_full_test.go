//go:build e2e && e2e_full

package e2e

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The e2e_full tag gates the slow scenarios: bulk paging, many-cycle
// convergence, and the per-table grids. Run with:
//
//	go test -tags "e2e e2e_full" ./e2e/

func TestE2EFull_AllTablesRoundTrip(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Two rows per table in each direction. Remote stamps sit above local
	// stamps so the same-table downloads stay above the post-upload
	// watermark.
	localBase := nowMS() - 120_000
	remoteBase := nowMS() - 60_000

	// Local fixtures, parents before children.
	w1, w2 := newID(), newID()
	env.createLocal("workout_logs", env.workoutRecord(w1, localBase, "Gym A"))
	env.createLocal("workout_logs", env.workoutRecord(w2, localBase+1, "Gym B"))

	s1 := newID()
	env.createLocal("sets", env.setRecord(s1, w1, localBase))
	env.createLocal("sets", env.setRecord(newID(), w1, localBase+1))

	env.createLocal("runs", env.runRecord(newID(), localBase))
	env.createLocal("runs", env.runRecord(newID(), localBase+1))

	env.createLocal("messages", env.messageRecord(newID(), localBase, "Local one"))
	env.createLocal("messages", env.messageRecord(newID(), localBase+1, "Local two"))

	env.createLocal("readiness_scores", env.readinessRecord(newID(), localBase, 6))
	env.createLocal("readiness_scores", env.readinessRecord(newID(), localBase+1, 7))

	env.createLocal("pr_history", env.prRecord(newID(), w1, localBase))
	env.createLocal("pr_history", env.prRecord(newID(), w2, localBase+1))

	// Remote fixtures, as if a second device had already synced.
	rw1, rw2 := newID(), newID()
	env.seedRemote("workout_logs", env.wireWorkout(rw1, remoteBase, "Track A"))
	env.seedRemote("workout_logs", env.wireWorkout(rw2, remoteBase+1, "Track B"))
	env.seedRemote("sets", env.wireSet(newID(), rw1, remoteBase))
	env.seedRemote("sets", env.wireSet(newID(), rw1, remoteBase+1))
	env.seedRemote("runs", env.wireRun(newID(), remoteBase))
	env.seedRemote("runs", env.wireRun(newID(), remoteBase+1))
	env.seedRemote("messages", env.wireMessage(newID(), remoteBase, "Remote one"))
	env.seedRemote("messages", env.wireMessage(newID(), remoteBase+1, "Remote two"))
	env.seedRemote("readiness_scores", env.wireReadiness(newID(), remoteBase, 9))
	env.seedRemote("readiness_scores", env.wireReadiness(newID(), remoteBase+1, 5))
	env.seedRemote("pr_history", env.wirePR(newID(), rw1, remoteBase))
	env.seedRemote("pr_history", env.wirePR(newID(), rw2, remoteBase+1))

	report := env.runSyncJSON()

	require.False(t, report.Aborted)
	assert.Equal(t, syncCounts{Uploaded: 12, Downloaded: 12}, report.Totals)

	for _, table := range allTables {
		assert.Equal(t, syncCounts{Uploaded: 2, Downloaded: 2}, report.Tables[table], table)
		assert.EqualValues(t, 4, env.countLocal(table), table)
		assert.Len(t, env.remoteRows(table), 4, table)
	}

	// Spot-check payloads on both sides.
	assert.Equal(t, "Track A", env.localRow("workout_logs", rw1).Fields["workoutName"])
	assert.Equal(t, "Gym A", env.remoteRow("workout_logs", w1)["workout_name"])
	assert.Equal(t, w1, env.remoteRow("sets", s1)["workout_log_id"])

	// Fully converged: verify agrees.
	stdout, _ := env.runCLI("verify")
	assert.Contains(t, stdout, "ok")
	assert.NotContains(t, stdout, "drift")
}

func TestE2EFull_PagingDownload(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// More rows than one PostgREST page: the client must walk the Range
	// windows until the set is exhausted.
	const total = 1200
	base := nowMS() - 3_600_000

	for i := 0; i < total; i++ {
		env.seedRemote("messages", env.wireMessage(newID(), base+int64(i), fmt.Sprintf("bulk %04d", i)))
	}

	report := env.runSyncJSON()

	assert.Equal(t, total, report.Totals.Downloaded)
	assert.EqualValues(t, total, env.countLocal("messages"))

	// Nothing re-downloads once the watermark has moved past the batch.
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{}, report.Totals)
}

func TestE2EFull_UnicodeTextNFC(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// The backend may hold decomposed text ("e" plus combining acute).
	// Local storage is NFC so equal-looking strings compare equal.
	const (
		decomposed = "café au lait"
		composed   = "café au lait"
	)

	downID := newID()
	env.seedRemote("messages", env.wireMessage(downID, nowMS()-30_000, decomposed))
	env.runSync()

	local := env.localRow("messages", downID)
	assert.Equal(t, composed, local.Fields["text"], "downloaded text should be NFC-normalized")

	// Already-composed text, emoji included, survives the round trip byte
	// for byte.
	upID := env.logMessage("Tempo 10k \U0001F3C3 done")
	env.runSync()
	assert.Equal(t, "Tempo 10k \U0001F3C3 done", env.remoteRow("messages", upID)["text"])
}

func TestE2EFull_NullableFieldsRoundTrip(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// A workout with no end time uploads an explicit null so a column
	// cleared on this device clears remotely too.
	workoutID := env.logWorkout("Open Ended")

	// Coming down: a message with an attached JSON payload and a readiness
	// check-in carrying only its required columns.
	msgID, readinessID := newID(), newID()
	withData := env.wireMessage(msgID, nowMS()-30_000, "Splits attached")
	withData["data"] = json.RawMessage(`{"pace_zone": 2}`)
	env.seedRemote("messages", withData)
	env.seedRemote("readiness_scores", env.wireReadiness(readinessID, nowMS()-30_000, 4))

	report := env.runSyncJSON()
	assert.Equal(t, 1, report.Totals.Uploaded)
	assert.Equal(t, 2, report.Totals.Downloaded)

	remote := env.remoteRow("workout_logs", workoutID)
	endTime, present := remote["end_time"]
	assert.True(t, present, "nullable columns are sent as explicit nulls")
	assert.Nil(t, endTime)

	msg := env.localRow("messages", msgID)
	assert.Equal(t, `{"pace_zone":2}`, msg.Fields["data"], "JSON payloads are stored compacted")

	readiness := env.localRow("readiness_scores", readinessID)
	assert.Equal(t, int64(4), readiness.Fields["score"])
	_, hasEmoji := readiness.Fields["emoji"]
	assert.False(t, hasEmoji, "remote nulls stay absent locally")
}

func TestE2EFull_ManyCyclesConvergence(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{})

	// Cycle 1: the first workout and message go up.
	workoutID := env.logWorkout("Base Week")
	msgID := env.logMessage("Week 1 begins")
	report := env.runSyncJSON()
	assert.Equal(t, syncCounts{Uploaded: 2}, report.Totals)

	// Cycle 2: another device adds a run and a second message.
	runID, msg2ID := newID(), newID()
	otherStamp := env.localRow("messages", msgID).UpdatedAt + 1_000
	env.seedRemote("runs", env.wireRun(runID, otherStamp))
	env.seedRemote("messages", env.wireMessage(msg2ID, otherStamp, "From the other phone"))
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{Downloaded: 2}, report.Totals)

	// Cycle 3: local edits to one row of each origin go back up.
	env.editLocal("messages", msgID, env.localRow("messages", msgID).UpdatedAt+1, func(rec *record) {
		rec.Fields["text"] = "Week 1 begins (edited)"
	})
	env.editLocal("runs", runID, env.localRow("runs", runID).UpdatedAt+1, func(rec *record) {
		rec.Fields["distance"] = 9.0
	})
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{Uploaded: 2}, report.Totals)
	assert.Equal(t, "Week 1 begins (edited)", env.remoteRow("messages", msgID)["text"])
	assert.Equal(t, 9.0, env.remoteRow("runs", runID)["distance"])

	// Cycle 4: the other device edits its message once more.
	bump := env.wireMessage(msg2ID, otherStamp+2_000, "From the other phone, v2")
	env.seedRemote("messages", bump)
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{Downloaded: 1}, report.Totals)
	assert.Equal(t, "From the other phone, v2", env.localRow("messages", msg2ID).Fields["text"])

	// Cycle 5: converged. Verify agrees and the per-table counts line up.
	report = env.runSyncJSON()
	assert.Equal(t, syncCounts{}, report.Totals)

	env.remoteRow("workout_logs", workoutID)

	stdout, _ := env.runCLI("verify")
	assert.NotContains(t, stdout, "drift")

	for _, table := range []string{"workout_logs", "runs", "messages"} {
		assert.EqualValues(t, len(env.remoteRows(table)), env.countLocal(table), table)
	}
}

func TestE2EFull_CreatedAtWatermark(t *testing.T) {
	env := newSyncEnv(t, syncEnvOpts{watermarkColumn: "created_at"})

	// created_at watermarking is immune to clock-skewed updated_at values
	// but blind to edits of rows it has already seen. Both properties are
	// deliberate; this test pins them down.
	base := nowMS() - 60_000
	firstID := newID()
	env.seedRemote("messages", env.wireMessage(firstID, base, "Original"))

	report := env.runSyncJSON()
	require.Equal(t, 1, report.Totals.Downloaded)

	// An edit bumps updated_at but keeps created_at: invisible here.
	edited := env.wireMessage(firstID, base, "Edited elsewhere")
	edited["updated_at"] = wireTime(base + 10_000)
	env.seedRemote("messages", edited)

	report = env.runSyncJSON()
	assert.Equal(t, 0, report.Totals.Downloaded, "edits are not re-fetched by created_at")
	assert.Equal(t, "Original", env.localRow("messages", firstID).Fields["text"])

	// A genuinely new row still lands.
	secondID := newID()
	env.seedRemote("messages", env.wireMessage(secondID, base+20_000, "Brand new"))

	report = env.runSyncJSON()
	assert.Equal(t, 1, report.Totals.Downloaded)
	assert.True(t, env.localExists("messages", secondID))
}
