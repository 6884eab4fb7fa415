package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// pageSize is the Range window used when selecting rows. Responses are
// expected to be small (tens to hundreds of rows per cycle); the loop
// exists so a long offline streak still downloads completely.
const pageSize = 1000

const restPrefix = "/rest/v1/"

// Query filters a Select: rows owned by UserID whose Column value is
// strictly greater than After (epoch ms), ordered ascending by Column.
type Query struct {
	UserID string
	Column string
	After  int64
}

// FormatTime renders an epoch-ms timestamp as the wire's ISO-8601 UTC
// string with millisecond precision.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseTime parses a wire timestamp into epoch ms. Accepts any RFC 3339
// fraction precision and zone offset; Postgres emits microseconds with
// +00:00.
func ParseTime(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("postgrest: parse time %q: %w", s, err)
	}

	return t.UnixMilli(), nil
}

// Insert creates one row. A duplicate id yields ErrDuplicateID, which
// the uploader counts as success (the row is already remote).
func (c *Client) Insert(ctx context.Context, table string, row map[string]any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("postgrest: marshal %s row: %w", table, err)
	}

	hdr := http.Header{}
	hdr.Set("Prefer", "return=minimal")

	resp, err := c.do(ctx, http.MethodPost, restPrefix+table, body, hdr)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}

// Upsert creates or merges one row keyed on id. The remote applies the
// merge only when the incoming updated_at is newer than the stored row
// (server-side last-write-wins guard), so a stale upsert is
// acknowledged without effect. This is the uploader's write path: it
// lets edits to previously-synced rows reach the remote.
func (c *Client) Upsert(ctx context.Context, table string, row map[string]any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("postgrest: marshal %s row: %w", table, err)
	}

	hdr := http.Header{}
	hdr.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.do(ctx, http.MethodPost, restPrefix+table, body, hdr)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}

// Select returns all rows matching q, paging with Range headers until a
// short page. Rows come back as raw JSON objects in Column order.
func (c *Client) Select(ctx context.Context, table string, q Query) ([]map[string]any, error) {
	v := url.Values{}
	v.Set("select", "*")
	v.Set("user_id", "eq."+q.UserID)
	v.Set(q.Column, "gt."+FormatTime(q.After))
	v.Set("order", q.Column+".asc")

	path := restPrefix + table + "?" + v.Encode()

	var all []map[string]any

	for offset := 0; ; offset += pageSize {
		page, err := c.selectPage(ctx, path, offset)
		if err != nil {
			return nil, fmt.Errorf("postgrest: select %s: %w", table, err)
		}

		all = append(all, page...)

		if len(page) < pageSize {
			return all, nil
		}
	}
}

// selectPage fetches one Range window of a select.
func (c *Client) selectPage(ctx context.Context, path string, offset int) ([]map[string]any, error) {
	hdr := http.Header{}
	hdr.Set("Range-Unit", "items")
	hdr.Set("Range", fmt.Sprintf("%d-%d", offset, offset+pageSize-1))

	resp, err := c.do(ctx, http.MethodGet, path, nil, hdr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading page at %d: %w: %w", offset, ErrNetwork, err)
	}

	var page []map[string]any
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decoding page at %d: %w", offset, err)
	}

	return page, nil
}

// Count returns the number of rows owned by userID in a table, using an
// exact-count HEAD request. Used by the verify command; never on the
// sync path.
func (c *Client) Count(ctx context.Context, table, userID string) (int64, error) {
	v := url.Values{}
	v.Set("select", "id")
	v.Set("user_id", "eq."+userID)

	hdr := http.Header{}
	hdr.Set("Prefer", "count=exact")
	hdr.Set("Range-Unit", "items")
	hdr.Set("Range", "0-0")

	resp, err := c.do(ctx, http.MethodHead, restPrefix+table+"?"+v.Encode(), nil, hdr)
	if err != nil {
		return 0, fmt.Errorf("postgrest: count %s: %w", table, err)
	}
	resp.Body.Close()

	// Content-Range: "0-0/42" or "*/0" for an empty table.
	cr := resp.Header.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 || idx == len(cr)-1 {
		return 0, fmt.Errorf("postgrest: count %s: missing Content-Range total in %q", table, cr)
	}

	total, err := strconv.ParseInt(cr[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgrest: count %s: parse Content-Range %q: %w", table, cr, err)
	}

	return total, nil
}

// Ping verifies the deployment is reachable and the session is
// accepted. It hits the REST root, which answers with the API schema.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, restPrefix, nil, nil)
	if err != nil {
		return fmt.Errorf("postgrest: ping: %w", err)
	}
	resp.Body.Close()

	return nil
}
