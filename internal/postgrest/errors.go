// Package postgrest provides an HTTP client for a PostgREST-style data
// API (a Supabase project's /rest/v1 surface) with automatic retry,
// error classification, and a realtime change subscriber. Rows cross
// this boundary as generic JSON objects; shaping them is the codec's
// job, not the transport's.
package postgrest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for remote failure classification.
// Use errors.Is(err, postgrest.ErrAuth) to check.
var (
	// ErrAuth covers rejected or missing credentials. The sync engine
	// aborts the current cycle on it.
	ErrAuth = errors.New("postgrest: auth rejected")

	// ErrNoSession means no bearer token is available at all. It wraps
	// ErrAuth so callers that only distinguish the coarse taxonomy keep
	// working.
	ErrNoSession = fmt.Errorf("postgrest: no session: %w", ErrAuth)

	// ErrDuplicateID is a unique-key violation on insert. The uploader
	// treats it as success: the row is already remote.
	ErrDuplicateID = errors.New("postgrest: duplicate id")

	// ErrSchema covers malformed requests, unknown tables/columns, and
	// constraint violations other than duplicate id. Permanent until the
	// offending row or deployment is fixed.
	ErrSchema = errors.New("postgrest: schema rejected request")

	// ErrThrottled is a 429 that survived retries.
	ErrThrottled = errors.New("postgrest: throttled")

	// ErrServer is a 5xx that survived retries.
	ErrServer = errors.New("postgrest: server error")

	// ErrNetwork is a transport-level failure that survived retries.
	ErrNetwork = errors.New("postgrest: network failure")
)

// uniqueViolation is the Postgres error code surfaced by PostgREST for
// duplicate-key inserts.
const uniqueViolation = "23505"

// Error wraps a sentinel with the HTTP status and the PostgREST error
// body (code/message/details) for debugging.
type Error struct {
	StatusCode int
	Code       string // Postgres or PGRST error code, when present
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest: HTTP %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("postgrest: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorBody is the JSON error shape PostgREST returns.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// parseErrorBody extracts the PostgREST error fields, tolerating
// non-JSON bodies from proxies.
func parseErrorBody(raw []byte) errorBody {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Message = string(raw)
	}

	return body
}

// classifyStatus maps a status code plus PostgREST error code to a
// sentinel error. Returns nil for 2xx.
func classifyStatus(status int, code string) error {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusConflict && code == uniqueViolation:
		return ErrDuplicateID
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status >= http.StatusInternalServerError:
		return ErrServer
	default:
		// 400, 404, 405, 406, 409 (non-unique), 422 and friends: the
		// request itself is wrong for the deployed schema.
		return ErrSchema
	}
}

// isRetryable reports whether the given HTTP status should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is worth retrying on a later sync
// cycle without operator involvement: network trouble, throttling, or
// server-side failures.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer) || errors.Is(err, ErrThrottled)
}
