package devserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/harjula/fitsync-go/internal/postgrest"
	"github.com/harjula/fitsync-go/internal/schema"
)

// maxBodyBytes caps write request bodies. Rows are small; anything
// larger is a bug.
const maxBodyBytes = 1 << 20

// Postgres and PostgREST error codes the real stack would surface.
const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
	codeRLSViolation    = "42501"
	codeNotNull         = "23502"
	codeUniqueViolation = "23505"
	codeBadTimestamp    = "22007"
	codeBadValue        = "22P02"
	codeBadBody         = "PGRST102"
	codeUnknownColumn   = "PGRST204"
)

// pgError is the PostgREST error body.
type pgError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writePGError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, pgError{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

// handleRoot answers the API root, which the client uses as a
// reachability probe.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"info":   "fitsync devserver",
		"tables": schema.TableNames(),
	})
}

func tableOf(r *http.Request) (schema.Table, bool) {
	return schema.ByName(chi.URLParam(r, "table"))
}

// handleWrite serves POST /rest/v1/{table}: plain insert, or a
// merge-duplicates upsert guarded by last-write-wins on updated_at.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	t, ok := tableOf(r)
	if !ok {
		writePGError(w, http.StatusNotFound, codeUndefinedTable,
			fmt.Sprintf("relation %q does not exist", chi.URLParam(r, "table")))

		return
	}

	rows, err := decodeBodyRows(r.Body)
	if err != nil {
		writePGError(w, http.StatusBadRequest, codeBadBody, "empty or invalid json request body")
		return
	}

	merge := strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates")
	uid := sessionUserID(r.Context())

	for _, row := range rows {
		if status, perr := s.applyWrite(t, row, uid, merge); perr != nil {
			writePGError(w, status, perr.Code, perr.Message)
			return
		}
	}

	s.logger.Debug("devserver: rows written",
		slog.String("table", t.Name),
		slog.Int("rows", len(rows)),
		slog.Bool("merge", merge),
	)

	// The client always asks for return=minimal.
	w.WriteHeader(http.StatusCreated)
}

// decodeBodyRows accepts the two shapes PostgREST takes: one object or
// an array of objects.
func decodeBodyRows(rd io.Reader) ([]map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(rd, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []map[string]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}

		return rows, nil
	}

	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}

	return []map[string]any{row}, nil
}

// applyWrite validates one incoming row and stores it. Returns a
// non-nil pgError with its HTTP status on rejection.
func (s *Server) applyWrite(t schema.Table, row map[string]any, uid string, merge bool) (int, *pgError) {
	id, _ := row[schema.ColID].(string)
	if id == "" {
		return http.StatusBadRequest, &pgError{Code: codeNotNull,
			Message: fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", schema.ColID, t.Name)}
	}

	for key := range row {
		if isEnvelope(key) {
			continue
		}

		if _, ok := t.Column(key); !ok {
			return http.StatusBadRequest, &pgError{Code: codeUnknownColumn,
				Message: fmt.Sprintf("could not find the '%s' column of '%s' in the schema cache", key, t.Name)}
		}
	}

	if rowUID, _ := row[schema.ColUserID].(string); rowUID != uid {
		return http.StatusForbidden, &pgError{Code: codeRLSViolation,
			Message: fmt.Sprintf("new row violates row-level security policy for table %q", t.Name)}
	}

	for _, col := range []string{schema.ColCreatedAt, schema.ColUpdatedAt} {
		if _, ok := wireMS(row[col]); !ok {
			return http.StatusBadRequest, &pgError{Code: codeBadTimestamp,
				Message: fmt.Sprintf("invalid input syntax for type timestamp in column %q", col)}
		}
	}

	for _, col := range t.Columns {
		v, present := row[col.Name]
		if !present || v == nil {
			if !col.Nullable {
				return http.StatusBadRequest, &pgError{Code: codeNotNull,
					Message: fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", col.Name, t.Name)}
			}

			continue
		}

		if !kindAccepts(col.Kind, v) {
			return http.StatusBadRequest, &pgError{Code: codeBadValue,
				Message: fmt.Sprintf("invalid input for %s column %q of relation %q", col.Kind, col.Name, t.Name)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.tables[t.Name][id]

	switch {
	case !exists:
		s.tables[t.Name][id] = cloneRow(row)

	case !merge:
		return http.StatusConflict, &pgError{Code: codeUniqueViolation,
			Message: fmt.Sprintf("duplicate key value violates unique constraint %q", t.Name+"_pkey")}

	default:
		// Merge guard: the stored row wins unless the incoming edit is
		// strictly newer. A stale upsert is acknowledged without effect.
		incoming, _ := wireMS(row[schema.ColUpdatedAt])
		current, _ := wireMS(stored[schema.ColUpdatedAt])

		if incoming > current {
			s.tables[t.Name][id] = cloneRow(row)
		}
	}

	return http.StatusCreated, nil
}

// isEnvelope reports whether key is one of the implicit columns every
// table carries on the wire.
func isEnvelope(key string) bool {
	switch key {
	case schema.ColID, schema.ColUserID, schema.ColCreatedAt, schema.ColUpdatedAt:
		return true
	default:
		return false
	}
}

// kindAccepts checks a decoded JSON value against a column kind.
func kindAccepts(kind schema.Kind, v any) bool {
	switch kind {
	case schema.KindText:
		_, ok := v.(string)
		return ok
	case schema.KindInt:
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case schema.KindFloat:
		_, ok := v.(float64)
		return ok
	case schema.KindBool:
		_, ok := v.(bool)
		return ok
	case schema.KindTime:
		_, ok := wireMS(v)
		return ok
	case schema.KindJSON:
		return true
	default:
		return false
	}
}

// wireMS reads a wire timestamp (ISO-8601 string, or a raw number from
// seeded fixtures) as epoch milliseconds.
func wireMS(v any) (int64, bool) {
	switch tv := v.(type) {
	case string:
		ms, err := postgrest.ParseTime(tv)
		if err != nil {
			return 0, false
		}

		return ms, true
	case float64:
		return int64(tv), true
	case int64:
		return tv, true
	default:
		return 0, false
	}
}

// filter is one parsed query-string condition with its value already
// coerced to the column's kind.
type filter struct {
	col  string
	kind schema.Kind
	op   string // "eq" or "gt"

	s  string
	f  float64
	ms int64
	b  bool
}

// handleSelect serves GET and HEAD /rest/v1/{table}: row-scoped
// filtering, ordering, Range paging, and exact counts.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	t, ok := tableOf(r)
	if !ok {
		writePGError(w, http.StatusNotFound, codeUndefinedTable,
			fmt.Sprintf("relation %q does not exist", chi.URLParam(r, "table")))

		return
	}

	filters, perr := parseFilters(t, r.URL.Query())
	if perr != nil {
		writePGError(w, http.StatusBadRequest, perr.Code, perr.Message)
		return
	}

	orderCol, desc, perr := parseOrder(t, r.URL.Query().Get("order"))
	if perr != nil {
		writePGError(w, http.StatusBadRequest, perr.Code, perr.Message)
		return
	}

	rows := s.selectRows(t, sessionUserID(r.Context()), filters)
	sortRows(t, rows, orderCol, desc)

	start, end, haveRange := parseRange(r.Header.Get("Range"))

	total := len(rows)
	page := pageWindow(rows, start, end)

	w.Header().Set("Content-Range",
		contentRange(start, len(page), total, strings.Contains(r.Header.Get("Prefer"), "count=exact")))

	status := http.StatusOK
	if haveRange && len(page) < total {
		status = http.StatusPartialContent
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	writeJSON(w, status, page)
}

// selectRows snapshots the rows visible to uid that match every filter.
// Row-level security is implicit: other users' rows do not exist as far
// as the session can tell.
func (s *Server) selectRows(t schema.Table, uid string, filters []filter) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any

	for _, row := range s.tables[t.Name] {
		owner, _ := row[schema.ColUserID].(string)
		if owner != uid {
			continue
		}

		if matchAll(row, filters) {
			out = append(out, cloneRow(row))
		}
	}

	return out
}

// parseFilters turns query params into typed conditions. select, order,
// and paging params are not filters; anything else must be a known
// column with an eq. or gt. value.
func parseFilters(t schema.Table, values url.Values) ([]filter, *pgError) {
	var filters []filter

	for key, vals := range values {
		switch key {
		case "select", "order", "limit", "offset":
			continue
		}

		kind, ok := columnKind(t, key)
		if !ok {
			return nil, &pgError{Code: codeUndefinedColumn,
				Message: fmt.Sprintf("column %s.%s does not exist", t.Name, key)}
		}

		for _, raw := range vals {
			op, arg, found := strings.Cut(raw, ".")
			if !found || (op != "eq" && op != "gt") {
				return nil, &pgError{Code: codeBadValue,
					Message: fmt.Sprintf("unsupported filter %q on column %q", raw, key)}
			}

			f := filter{col: key, kind: kind, op: op}

			switch kind {
			case schema.KindTime:
				ms, err := postgrest.ParseTime(arg)
				if err != nil {
					return nil, &pgError{Code: codeBadTimestamp,
						Message: fmt.Sprintf("invalid timestamp %q in filter on %q", arg, key)}
				}

				f.ms = ms

			case schema.KindInt, schema.KindFloat:
				n, err := strconv.ParseFloat(arg, 64)
				if err != nil {
					return nil, &pgError{Code: codeBadValue,
						Message: fmt.Sprintf("invalid number %q in filter on %q", arg, key)}
				}

				f.f = n

			case schema.KindText:
				f.s = arg

			case schema.KindBool:
				f.b = arg == "true"

			default:
				return nil, &pgError{Code: codeBadValue,
					Message: fmt.Sprintf("column %q does not support filters", key)}
			}

			filters = append(filters, f)
		}
	}

	return filters, nil
}

// columnKind resolves a wire column name to its kind, envelope columns
// included.
func columnKind(t schema.Table, name string) (schema.Kind, bool) {
	switch name {
	case schema.ColID, schema.ColUserID:
		return schema.KindText, true
	case schema.ColCreatedAt, schema.ColUpdatedAt:
		return schema.KindTime, true
	}

	col, ok := t.Column(name)
	if !ok {
		return 0, false
	}

	return col.Kind, true
}

func matchAll(row map[string]any, filters []filter) bool {
	for _, f := range filters {
		if !f.match(row) {
			return false
		}
	}

	return true
}

// match applies one condition. SQL semantics: null never matches.
func (f filter) match(row map[string]any) bool {
	v, ok := row[f.col]
	if !ok || v == nil {
		return false
	}

	switch f.kind {
	case schema.KindTime:
		ms, ok := wireMS(v)
		if !ok {
			return false
		}

		if f.op == "gt" {
			return ms > f.ms
		}

		return ms == f.ms

	case schema.KindInt, schema.KindFloat:
		n, ok := v.(float64)
		if !ok {
			return false
		}

		if f.op == "gt" {
			return n > f.f
		}

		return n == f.f

	case schema.KindText:
		s, ok := v.(string)
		if !ok {
			return false
		}

		if f.op == "gt" {
			return s > f.s
		}

		return s == f.s

	case schema.KindBool:
		b, ok := v.(bool)

		return ok && f.op == "eq" && b == f.b

	default:
		return false
	}
}

// parseOrder reads the order param ("col.asc", "col.desc", bare "col").
// An empty param sorts by id for deterministic paging.
func parseOrder(t schema.Table, raw string) (string, bool, *pgError) {
	if raw == "" {
		return schema.ColID, false, nil
	}

	col, dir, _ := strings.Cut(raw, ".")

	if _, ok := columnKind(t, col); !ok {
		return "", false, &pgError{Code: codeUndefinedColumn,
			Message: fmt.Sprintf("column %s.%s does not exist", t.Name, col)}
	}

	return col, dir == "desc", nil
}

// sortRows orders rows by the given column with id as tiebreaker, so
// Range windows never overlap or skip.
func sortRows(t schema.Table, rows []map[string]any, col string, desc bool) {
	kind, _ := columnKind(t, col)

	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(kind, rows[i][col], rows[j][col])
		if c == 0 {
			a, _ := rows[i][schema.ColID].(string)
			b, _ := rows[j][schema.ColID].(string)

			return a < b
		}

		if desc {
			return c > 0
		}

		return c < 0
	})
}

// compareValues orders two wire values of one kind; nulls sort first.
func compareValues(kind schema.Kind, a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch kind {
	case schema.KindTime:
		am, _ := wireMS(a)
		bm, _ := wireMS(b)

		return compareInt64(am, bm)

	case schema.KindInt, schema.KindFloat:
		af, _ := a.(float64)
		bf, _ := b.(float64)

		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}

	default:
		as, _ := a.(string)
		bs, _ := b.(string)

		return strings.Compare(as, bs)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// parseRange reads the items Range header ("start-end"). Absent or
// malformed means the whole set.
func parseRange(raw string) (int, int, bool) {
	from, to, found := strings.Cut(raw, "-")
	if !found {
		return 0, -1, false
	}

	start, err1 := strconv.Atoi(from)
	end, err2 := strconv.Atoi(to)

	if err1 != nil || err2 != nil || start < 0 || end < start {
		return 0, -1, false
	}

	return start, end, true
}

// pageWindow slices rows to the inclusive [start, end] window. end < 0
// means unbounded.
func pageWindow(rows []map[string]any, start, end int) []map[string]any {
	if start >= len(rows) {
		return []map[string]any{}
	}

	if end < 0 || end >= len(rows) {
		end = len(rows) - 1
	}

	return rows[start : end+1]
}

// contentRange renders the Content-Range header: "start-last/total"
// with count=exact, "*" placeholders otherwise.
func contentRange(start, pageLen, total int, exact bool) string {
	totalStr := "*"
	if exact {
		totalStr = strconv.Itoa(total)
	}

	if pageLen == 0 {
		return "*/" + totalStr
	}

	return fmt.Sprintf("%d-%d/%s", start, start+pageLen-1, totalStr)
}
