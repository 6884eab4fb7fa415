package sync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/schema"
)

// The codec translates between the local record shape and the remote
// wire shape, driven entirely by the table registry. Field names map
// between the app's camelCase (Record.Fields keys) and the remote's
// snake_case. Locally a time column is epoch milliseconds and a JSON
// column is a compact string; on the wire times are ISO-8601 UTC
// strings and JSON columns are native JSON values. The synced flag
// never crosses the wire.

// Encode renders a local record as one wire row for the given table.
// Absent nullable payload fields become explicit JSON nulls so that a
// remote column cleared on this device is cleared remotely too. A value
// that cannot be rendered (wrong shape, invalid stored JSON) makes the
// whole row a codec error; the caller logs the id and skips the row.
func Encode(t schema.Table, rec schema.Record) (map[string]any, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("sync: encode %s: record has no id", t.Name)
	}

	row := map[string]any{
		schema.ColID:        rec.ID,
		schema.ColUserID:    rec.UserID,
		schema.ColCreatedAt: postgrest.FormatTime(rec.CreatedAt),
		schema.ColUpdatedAt: postgrest.FormatTime(rec.UpdatedAt),
	}

	for _, col := range t.Columns {
		v, ok := rec.Fields[col.Local]
		if !ok || v == nil {
			row[col.Name] = nil
			continue
		}

		wire, err := encodeValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("sync: encode %s.%s (id %s): %w", t.Name, col.Name, rec.ID, err)
		}
		row[col.Name] = wire
	}

	return row, nil
}

func encodeValue(col schema.Column, v any) (any, error) {
	switch col.Kind {
	case schema.KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return s, nil

	case schema.KindInt:
		n, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("want int64, got %T", v)
		}
		return n, nil

	case schema.KindFloat:
		f, ok := asFloat64(v)
		if !ok {
			return nil, fmt.Errorf("want float64, got %T", v)
		}
		return f, nil

	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		return b, nil

	case schema.KindTime:
		ms, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("want epoch-ms int64, got %T", v)
		}
		return postgrest.FormatTime(ms), nil

	case schema.KindJSON:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want JSON string, got %T", v)
		}
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("stored JSON is invalid")
		}
		return json.RawMessage(s), nil

	default:
		return nil, fmt.Errorf("unknown kind %s", col.Kind)
	}
}

// Decode parses one wire row into a local record for the given table.
// The envelope fields are mandatory; a missing or mistyped one makes
// the row a codec error. Payload nulls become absent keys, text is
// NFC-normalized, and native JSON values are recompacted into strings.
// Decoded records carry Synced=false; the downloader decides the flag
// when it applies the row.
func Decode(t schema.Table, obj map[string]any) (schema.Record, error) {
	var rec schema.Record

	id, ok := obj[schema.ColID].(string)
	if !ok || id == "" {
		return rec, fmt.Errorf("sync: decode %s: missing or invalid id", t.Name)
	}
	userID, ok := obj[schema.ColUserID].(string)
	if !ok || userID == "" {
		return rec, fmt.Errorf("sync: decode %s (id %s): missing or invalid user_id", t.Name, id)
	}

	createdAt, err := decodeWireTime(obj[schema.ColCreatedAt])
	if err != nil {
		return rec, fmt.Errorf("sync: decode %s (id %s): created_at: %w", t.Name, id, err)
	}
	updatedAt, err := decodeWireTime(obj[schema.ColUpdatedAt])
	if err != nil {
		return rec, fmt.Errorf("sync: decode %s (id %s): updated_at: %w", t.Name, id, err)
	}

	rec = schema.Record{
		ID:        id,
		UserID:    userID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Fields:    make(map[string]any, len(t.Columns)),
	}

	for _, col := range t.Columns {
		v, ok := obj[col.Name]
		if !ok || v == nil {
			continue // null means the field stays absent locally
		}

		local, err := decodeValue(col, v)
		if err != nil {
			return schema.Record{}, fmt.Errorf("sync: decode %s.%s (id %s): %w", t.Name, col.Name, id, err)
		}
		rec.Fields[col.Local] = local
	}

	return rec, nil
}

func decodeValue(col schema.Column, v any) (any, error) {
	switch col.Kind {
	case schema.KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return norm.NFC.String(s), nil

	case schema.KindInt:
		n, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("want integer, got %T", v)
		}
		return n, nil

	case schema.KindFloat:
		f, ok := asFloat64(v)
		if !ok {
			return nil, fmt.Errorf("want number, got %T", v)
		}
		return f, nil

	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		return b, nil

	case schema.KindTime:
		ms, err := decodeWireTime(v)
		if err != nil {
			return nil, err
		}
		return ms, nil

	case schema.KindJSON:
		return compactJSON(v)

	default:
		return nil, fmt.Errorf("unknown kind %s", col.Kind)
	}
}

// decodeWireTime accepts the shapes a wire timestamp shows up as: an
// ISO-8601 string (any fraction precision, any zone) or, from fixtures
// and the devserver, a raw epoch-ms number.
func decodeWireTime(v any) (int64, error) {
	switch tv := v.(type) {
	case string:
		return postgrest.ParseTime(tv)
	case float64:
		return int64(tv), nil
	case int64:
		return tv, nil
	case json.Number:
		n, err := tv.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid numeric timestamp %q", tv.String())
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("timestamp is null")
	default:
		return 0, fmt.Errorf("want ISO-8601 string, got %T", v)
	}
}

// compactJSON re-marshals a decoded JSON value into the compact string
// form the local store keeps. Wire rows arrive as native JSON, so the
// value here is whatever encoding/json produced: map, slice, string,
// float64, bool, or json.RawMessage when the caller never unmarshalled.
func compactJSON(v any) (string, error) {
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", fmt.Errorf("invalid JSON payload: %w", err)
		}
		return buf.String(), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("invalid JSON payload: %w", err)
	}

	return string(b), nil
}

// asInt64 widens the integer shapes JSON decoding and SQLite scanning
// produce. Floats with a fractional part are rejected: an int column
// carrying 2.5 is a schema violation, not a rounding decision.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
