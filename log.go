package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/schema"
	"github.com/harjula/fitsync-go/internal/sync"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record training data locally",
		Long: `Create a local record. Rows are written to the local store with
synced = false and reach the backend on the next sync cycle; no network
access is needed to log.

The new record's id is printed to stdout so entries can be chained:

  workout=$(fitsync log workout --name "Push Day")
  fitsync log set --workout "$workout" --exercise-id bench \
      --exercise "Bench Press" --weight 100 --reps 5`,
	}

	cmd.AddCommand(newLogWorkoutCmd())
	cmd.AddCommand(newLogSetCmd())
	cmd.AddCommand(newLogRunCmd())
	cmd.AddCommand(newLogReadinessCmd())
	cmd.AddCommand(newLogMessageCmd())

	return cmd
}

func newLogWorkoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workout",
		Short: "Log a workout session",
		RunE:  runLogWorkout,
	}

	cmd.Flags().String("name", "", "workout name (required)")
	cmd.Flags().String("start", "", "start time, RFC 3339 (default now)")
	cmd.Flags().Duration("duration", 0, "session length; sets the end time")

	return cmd
}

func newLogSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Log one set of an exercise",
		RunE:  runLogSet,
	}

	cmd.Flags().String("workout", "", "parent workout log id (required)")
	cmd.Flags().String("exercise-id", "", "exercise identifier (required)")
	cmd.Flags().String("exercise", "", "exercise display name (required)")
	cmd.Flags().Float64("weight", 0, "weight in kg (required)")
	cmd.Flags().Int64("reps", 0, "repetitions (required)")
	cmd.Flags().Float64("rpe", 0, "rating of perceived exertion, 1-10")

	return cmd
}

func newLogRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log a completed run",
		Long: `Log a run that just finished: the end time is now and the start time
is now minus the duration. Pace and average speed are derived from
distance and duration.`,
		RunE: runLogRun,
	}

	cmd.Flags().Float64("distance", 0, "distance in km (required)")
	cmd.Flags().Duration("duration", 0, "elapsed time (required)")
	cmd.Flags().Float64("calories", 0, "energy burned in kcal")
	cmd.Flags().Float64("elevation-gain", 0, "total ascent in meters")
	cmd.Flags().Float64("elevation-loss", 0, "total descent in meters")
	cmd.Flags().String("terrain", "road", "terrain difficulty label")
	cmd.Flags().String("type", "", "workout type, e.g. easy, tempo, intervals")
	cmd.Flags().String("name", "", "workout name")

	return cmd
}

func newLogReadinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Log a daily readiness score",
		RunE:  runLogReadiness,
	}

	cmd.Flags().Int64("score", 0, "readiness score, 1-10 (required)")
	cmd.Flags().String("type", "morning", "check-in type")
	cmd.Flags().String("date", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().String("emoji", "", "mood emoji")
	cmd.Flags().Int64("sleep", 0, "sleep quality, 1-5")
	cmd.Flags().Int64("soreness", 0, "muscle soreness, 1-5")
	cmd.Flags().Int64("stress", 0, "stress level, 1-5")
	cmd.Flags().Int64("energy", 0, "energy level, 1-5")
	cmd.Flags().String("notes", "", "free-form notes")

	return cmd
}

func newLogMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Log a coach chat message",
		RunE:  runLogMessage,
	}

	cmd.Flags().String("text", "", "message text (required)")
	cmd.Flags().String("sender", "user", "message sender")
	cmd.Flags().String("type", "chat", "message type")
	cmd.Flags().String("data", "", "attached JSON payload")

	return cmd
}

func runLogWorkout(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		return errors.New("--name is required")
	}

	start, err := parseTimeFlag(cmd, "start")
	if err != nil {
		return err
	}

	fields := map[string]any{
		"workoutName": name,
		"startTime":   start,
	}

	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		fields["endTime"] = start + d.Milliseconds()
	}

	return createRecord(cmd, "workout_logs", fields, "Logged workout %q", name)
}

func runLogSet(cmd *cobra.Command, _ []string) error {
	workout, _ := cmd.Flags().GetString("workout")
	exerciseID, _ := cmd.Flags().GetString("exercise-id")
	exercise, _ := cmd.Flags().GetString("exercise")
	weight, _ := cmd.Flags().GetFloat64("weight")
	reps, _ := cmd.Flags().GetInt64("reps")

	switch {
	case workout == "":
		return errors.New("--workout is required")
	case exerciseID == "":
		return errors.New("--exercise-id is required")
	case exercise == "":
		return errors.New("--exercise is required")
	case weight <= 0:
		return errors.New("--weight must be positive")
	case reps <= 0:
		return errors.New("--reps must be positive")
	}

	fields := map[string]any{
		"workoutLogId": workout,
		"exerciseId":   exerciseID,
		"exerciseName": exercise,
		"weight":       weight,
		"reps":         reps,
	}

	if cmd.Flags().Changed("rpe") {
		rpe, _ := cmd.Flags().GetFloat64("rpe")
		fields["rpe"] = rpe
	}

	return createRecord(cmd, "sets", fields,
		"Logged %s %gkg x %d", exercise, weight, reps)
}

func runLogRun(cmd *cobra.Command, _ []string) error {
	distance, _ := cmd.Flags().GetFloat64("distance")
	duration, _ := cmd.Flags().GetDuration("duration")

	if distance <= 0 {
		return errors.New("--distance must be positive")
	}

	if duration <= 0 {
		return errors.New("--duration must be positive")
	}

	calories, _ := cmd.Flags().GetFloat64("calories")
	gain, _ := cmd.Flags().GetFloat64("elevation-gain")
	loss, _ := cmd.Flags().GetFloat64("elevation-loss")
	terrain, _ := cmd.Flags().GetString("terrain")

	end := sync.WallClock()
	start := end - duration.Milliseconds()

	// Distance in km, duration in seconds; pace in min/km, speed in km/h.
	secs := duration.Seconds()
	pace := secs / 60 / distance
	speed := distance / (secs / 3600)

	fields := map[string]any{
		"startTime":         start,
		"endTime":           end,
		"distance":          distance,
		"duration":          secs,
		"pace":              pace,
		"avgSpeed":          speed,
		"calories":          calories,
		"elevationGain":     gain,
		"elevationLoss":     loss,
		"gradePercent":      gradePercent(gain, loss, distance),
		"terrainDifficulty": terrain,
		"route":             "[]",
	}

	if v, _ := cmd.Flags().GetString("type"); v != "" {
		fields["workoutType"] = v
	}

	if v, _ := cmd.Flags().GetString("name"); v != "" {
		fields["workoutName"] = v
	}

	return createRecord(cmd, "runs", fields,
		"Logged %.2f km run in %s", distance, duration.Round(time.Second))
}

func runLogReadiness(cmd *cobra.Command, _ []string) error {
	score, _ := cmd.Flags().GetInt64("score")
	if score < 1 || score > 10 {
		return errors.New("--score must be between 1 and 10")
	}

	date, err := parseDateFlag(cmd, "date")
	if err != nil {
		return err
	}

	checkType, _ := cmd.Flags().GetString("type")

	fields := map[string]any{
		"date":  date,
		"score": score,
		"type":  checkType,
	}

	if v, _ := cmd.Flags().GetString("emoji"); v != "" {
		fields["emoji"] = v
	}

	if v, _ := cmd.Flags().GetString("notes"); v != "" {
		fields["notes"] = v
	}

	for flag, field := range map[string]string{
		"sleep":    "sleepQuality",
		"soreness": "soreness",
		"stress":   "stress",
		"energy":   "energy",
	} {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetInt64(flag)
			fields[field] = v
		}
	}

	return createRecord(cmd, "readiness_scores", fields,
		"Logged readiness %d/10", score)
}

func runLogMessage(cmd *cobra.Command, _ []string) error {
	text, _ := cmd.Flags().GetString("text")
	if text == "" {
		return errors.New("--text is required")
	}

	sender, _ := cmd.Flags().GetString("sender")
	msgType, _ := cmd.Flags().GetString("type")

	fields := map[string]any{
		"text":        text,
		"sender":      sender,
		"messageType": msgType,
	}

	if raw, _ := cmd.Flags().GetString("data"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("--data is not valid JSON: %q", raw)
		}

		fields["data"] = raw
	}

	return createRecord(cmd, "messages", fields, "Logged message")
}

// createRecord stamps and writes one new local row, then prints its id
// to stdout for chaining.
func createRecord(cmd *cobra.Command, table string, fields map[string]any, format string, args ...any) error {
	logger := buildLogger()

	userID, _, err := currentIdentity()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	now := sync.WallClock()
	rec := schema.Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Fields:    fields,
	}

	if err := st.Create(ctx, table, rec); err != nil {
		return err
	}

	logger.Debug("record created", "table", table, "id", rec.ID)
	statusf(format+" (%s).\n", append(args, shortID(rec.ID))...)
	fmt.Fprintln(cmd.OutOrStdout(), rec.ID)

	return nil
}

// parseTimeFlag reads an RFC 3339 time flag as epoch milliseconds,
// defaulting to now when the flag is empty.
func parseTimeFlag(cmd *cobra.Command, name string) (int64, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return sync.WallClock(), nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s (want RFC 3339, e.g. 2026-08-25T07:30:00Z): %w", name, err)
	}

	return t.UnixMilli(), nil
}

// parseDateFlag reads a YYYY-MM-DD flag as epoch milliseconds at UTC
// midnight, defaulting to today.
func parseDateFlag(cmd *cobra.Command, name string) (int64, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		now := time.Now().UTC()

		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).UnixMilli(), nil
	}

	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s (want YYYY-MM-DD): %w", name, err)
	}

	return t.UnixMilli(), nil
}

// gradePercent derives an average absolute grade from elevation change
// over the run distance. Zero distance is rejected by the caller.
func gradePercent(gain, loss, distanceKM float64) float64 {
	return (gain + loss) / (distanceKM * 1000) * 100
}
