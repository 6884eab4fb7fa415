package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// heartbeatInterval keeps the Phoenix socket alive; the server closes
// idle connections after 60 seconds.
const heartbeatInterval = 25 * time.Second

// realtimeChannel is the Phoenix topic this subscriber joins.
const realtimeChannel = "realtime:fitsync"

// Realtime subscribes to the deployment's change feed over websocket
// and fires a hint per change event. Hints only ever advance a sync;
// correctness never depends on the feed, so every failure path here
// degrades to reconnect-later.
type Realtime struct {
	baseURL string
	anonKey string
	token   TokenSource
	logger  *slog.Logger

	// sleepFunc waits between reconnect attempts. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewRealtime creates a change feed subscriber for the same deployment
// a Client talks to.
func NewRealtime(baseURL, anonKey string, token TokenSource, logger *slog.Logger) *Realtime {
	if logger == nil {
		logger = slog.Default()
	}

	return &Realtime{
		baseURL:   baseURL,
		anonKey:   anonKey,
		token:     token,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// phxOut is an outgoing Phoenix frame.
type phxOut struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

// phxIn is an incoming Phoenix frame with the payload left raw.
type phxIn struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the slice of a postgres_changes event we care about.
type changePayload struct {
	Data struct {
		Table string `json:"table"`
		Type  string `json:"type"`
	} `json:"data"`
}

// Run connects and pumps change hints until ctx is canceled;
// cancellation is the only way it returns. Connection failures
// reconnect with exponential backoff; a session that reached a joined
// channel resets the backoff.
func (r *Realtime) Run(ctx context.Context, tables []string, hint func(table string)) error {
	var attempt int

	for {
		if ctx.Err() != nil {
			return nil
		}

		joined, err := r.session(ctx, tables, hint)
		if ctx.Err() != nil {
			return nil
		}

		if joined {
			attempt = 0
		}

		backoff := backoffDuration(attempt)
		r.logger.Warn("realtime session ended, reconnecting",
			slog.Duration("backoff", backoff),
			slog.String("error", errString(err)),
		)

		if sleepErr := r.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil
		}

		if attempt < maxRetries {
			attempt++
		}
	}
}

// session runs one websocket connection to completion: dial, join the
// channel with a postgres_changes config for every table, heartbeat,
// and pump events. Returns whether the join was acknowledged.
func (r *Realtime) session(ctx context.Context, tables []string, hint func(table string)) (bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.Dial(sctx, r.websocketURL(), nil)
	if err != nil {
		return false, fmt.Errorf("postgrest: realtime dial: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck // already torn down on every path

	tok, err := r.token.Token()
	if err != nil {
		return false, fmt.Errorf("postgrest: realtime token: %w", err)
	}

	changes := make([]map[string]string, len(tables))
	for i, t := range tables {
		changes[i] = map[string]string{"event": "*", "schema": "public", "table": t}
	}

	join := phxOut{
		Topic: realtimeChannel,
		Event: "phx_join",
		Ref:   "1",
		Payload: map[string]any{
			"access_token": tok,
			"config":       map[string]any{"postgres_changes": changes},
		},
	}
	if err := wsjson.Write(sctx, conn, join); err != nil {
		return false, fmt.Errorf("postgrest: realtime join: %w", err)
	}

	// Heartbeats hold the socket open; the read loop below is the only
	// other writer-free consumer of the connection.
	go r.heartbeat(sctx, conn)

	var joined bool

	for {
		var msg phxIn
		if err := wsjson.Read(sctx, conn, &msg); err != nil {
			return joined, fmt.Errorf("postgrest: realtime read: %w", err)
		}

		switch msg.Event {
		case "phx_reply":
			if msg.Ref == "1" && !joined {
				joined = true
				r.logger.Info("realtime channel joined",
					slog.Int("tables", len(tables)))
			}
		case "postgres_changes":
			var change changePayload
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				r.logger.Debug("undecodable change event", "error", err)
				continue
			}

			if change.Data.Table != "" {
				r.logger.Debug("remote change hint",
					slog.String("table", change.Data.Table),
					slog.String("type", change.Data.Type))
				hint(change.Data.Table)
			}
		case "phx_error", "phx_close":
			return joined, fmt.Errorf("postgrest: realtime channel closed: %s", msg.Event)
		}
	}
}

// heartbeat writes Phoenix keepalives until the session context ends.
func (r *Realtime) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat := phxOut{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: "hb"}
			if err := wsjson.Write(ctx, conn, beat); err != nil {
				return
			}
		}
	}
}

// websocketURL derives the realtime endpoint from the project base URL.
func (r *Realtime) websocketURL() string {
	ws := r.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}

	return ws + "/realtime/v1/websocket?apikey=" + url.QueryEscape(r.anonKey) + "&vsn=1.0.0"
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
