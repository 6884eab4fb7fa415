// Package schema defines the registry of syncable tables and the common
// record envelope shared by the local store, the record codec, and the
// sync engine. Each table is described declaratively as a column map so
// that storage, wire encoding, and tests are all generated from one
// source of truth.
package schema

// Kind classifies a payload column's value shape on both sides of the
// sync boundary.
type Kind int

// Column kinds. Time columns are millisecond-since-epoch integers locally
// and ISO-8601 strings remotely. JSON columns are compact JSON strings
// locally and native JSON values remotely.
const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindJSON
)

// String returns the kind name used in logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Column describes one payload column of a syncable table.
type Column struct {
	Name     string // snake_case name, used remotely and in SQLite
	Local    string // camelCase name used in the app's local row shape
	Kind     Kind
	Nullable bool
	FK       string // referenced table for foreign-key columns, informational only
}

// Table describes one syncable table: its name plus payload columns.
// Every table additionally carries the implicit envelope columns
// id, user_id, created_at, updated_at, and the local-only synced flag.
type Table struct {
	Name    string
	Columns []Column
}

// Column returns the payload column with the given snake_case name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Envelope column names shared by every table. Synced never crosses the
// wire; it is device-local bookkeeping.
const (
	ColID        = "id"
	ColUserID    = "user_id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColSynced    = "synced"
)

// Record is the local shape of one syncable row: the envelope plus the
// table-specific payload. Fields is keyed by Column.Local (the app's
// camelCase field names) and holds local value shapes (string, int64,
// float64, bool; int64 epoch-ms for time columns; compact JSON string
// for JSON columns). An absent key means the column is null. The codec
// and the store translate between these keys and the snake_case column
// names used on the wire and in SQLite.
type Record struct {
	ID        string
	UserID    string
	CreatedAt int64 // epoch milliseconds
	UpdatedAt int64 // epoch milliseconds
	Synced    bool
	Fields    map[string]any
}

// Clone returns a deep copy. The sync engine hands records across
// transaction boundaries and must not alias payload maps.
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// registry lists the syncable tables in their declared sync order.
// Parents precede children: workout_logs before sets and pr_history.
// The order is load-bearing for upload and download passes.
var registry = []Table{
	{
		Name: "workout_logs",
		Columns: []Column{
			{Name: "workout_name", Local: "workoutName", Kind: KindText},
			{Name: "start_time", Local: "startTime", Kind: KindTime},
			{Name: "end_time", Local: "endTime", Kind: KindTime, Nullable: true},
		},
	},
	{
		Name: "sets",
		Columns: []Column{
			{Name: "workout_log_id", Local: "workoutLogId", Kind: KindText, FK: "workout_logs"},
			{Name: "exercise_id", Local: "exerciseId", Kind: KindText},
			{Name: "exercise_name", Local: "exerciseName", Kind: KindText},
			{Name: "weight", Local: "weight", Kind: KindFloat},
			{Name: "reps", Local: "reps", Kind: KindInt},
			{Name: "rpe", Local: "rpe", Kind: KindFloat, Nullable: true},
			{Name: "voice_command_id", Local: "voiceCommandId", Kind: KindText, Nullable: true},
		},
	},
	{
		Name: "runs",
		Columns: []Column{
			{Name: "start_time", Local: "startTime", Kind: KindTime},
			{Name: "end_time", Local: "endTime", Kind: KindTime},
			{Name: "distance", Local: "distance", Kind: KindFloat},
			{Name: "duration", Local: "duration", Kind: KindFloat},
			{Name: "pace", Local: "pace", Kind: KindFloat},
			{Name: "avg_speed", Local: "avgSpeed", Kind: KindFloat},
			{Name: "calories", Local: "calories", Kind: KindFloat},
			{Name: "elevation_gain", Local: "elevationGain", Kind: KindFloat},
			{Name: "elevation_loss", Local: "elevationLoss", Kind: KindFloat},
			{Name: "grade_adjusted_pace", Local: "gradeAdjustedPace", Kind: KindFloat, Nullable: true},
			{Name: "grade_percent", Local: "gradePercent", Kind: KindFloat},
			{Name: "terrain_difficulty", Local: "terrainDifficulty", Kind: KindText},
			{Name: "route", Local: "route", Kind: KindJSON},
			{Name: "workout_type", Local: "workoutType", Kind: KindText, Nullable: true},
			{Name: "workout_name", Local: "workoutName", Kind: KindText, Nullable: true},
		},
	},
	{
		Name: "messages",
		Columns: []Column{
			{Name: "text", Local: "text", Kind: KindText},
			{Name: "sender", Local: "sender", Kind: KindText},
			{Name: "message_type", Local: "messageType", Kind: KindText},
			{Name: "data", Local: "data", Kind: KindJSON, Nullable: true},
		},
	},
	{
		Name: "readiness_scores",
		Columns: []Column{
			{Name: "date", Local: "date", Kind: KindTime},
			{Name: "score", Local: "score", Kind: KindInt},
			{Name: "type", Local: "type", Kind: KindText},
			{Name: "emoji", Local: "emoji", Kind: KindText, Nullable: true},
			{Name: "sleep_quality", Local: "sleepQuality", Kind: KindInt, Nullable: true},
			{Name: "soreness", Local: "soreness", Kind: KindInt, Nullable: true},
			{Name: "stress", Local: "stress", Kind: KindInt, Nullable: true},
			{Name: "energy", Local: "energy", Kind: KindInt, Nullable: true},
			{Name: "notes", Local: "notes", Kind: KindText, Nullable: true},
		},
	},
	{
		Name: "pr_history",
		Columns: []Column{
			{Name: "exercise_id", Local: "exerciseId", Kind: KindText},
			{Name: "exercise_name", Local: "exerciseName", Kind: KindText},
			{Name: "one_rm", Local: "oneRM", Kind: KindFloat},
			{Name: "weight", Local: "weight", Kind: KindFloat},
			{Name: "reps", Local: "reps", Kind: KindInt},
			{Name: "workout_log_id", Local: "workoutLogId", Kind: KindText, FK: "workout_logs"},
			{Name: "achieved_at", Local: "achievedAt", Kind: KindTime},
		},
	},
}

// Tables returns the registered tables in declared sync order. Callers
// must not mutate the returned slice.
func Tables() []Table {
	return registry
}

// TableNames returns just the names, in declared sync order.
func TableNames() []string {
	names := make([]string, len(registry))
	for i, t := range registry {
		names[i] = t.Name
	}
	return names
}

// ByName looks up a registered table.
func ByName(name string) (Table, bool) {
	for _, t := range registry {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
