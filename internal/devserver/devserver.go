// Package devserver is a hermetic stand-in for the hosted backend: the
// GoTrue token endpoint plus a PostgREST-style /rest/v1 surface over
// in-memory tables. Development and e2e tests point fitsync at it;
// nothing persists across restarts.
//
// Fidelity covers what the sync engine exercises: password and refresh
// grants, bearer-token row scoping, insert with duplicate-key errors,
// merge-duplicates upsert with the server-side last-write-wins guard,
// watermark filters, ordering, and Range paging with exact counts.
package devserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/harjula/fitsync-go/internal/schema"
)

// defaultTokenTTL is the lifetime of issued access tokens.
const defaultTokenTTL = time.Hour

// Server holds the in-memory state behind the HTTP surface. One mutex
// guards everything; a test double has no throughput story.
type Server struct {
	secret []byte
	logger *slog.Logger

	// TokenTTL is the access token lifetime. Tests shorten it to force
	// refresh grants mid-run.
	TokenTTL time.Duration

	mu      sync.Mutex
	users   map[string]user                       // keyed by email
	refresh map[string]string                     // refresh token -> user id
	tables  map[string]map[string]map[string]any  // table -> row id -> wire row
}

type user struct {
	id       string
	email    string
	password string
}

// New creates an empty server with one table per registry entry. secret
// signs and verifies the HS256 session tokens.
func New(secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		secret:   []byte(secret),
		logger:   logger,
		TokenTTL: defaultTokenTTL,
		users:    make(map[string]user),
		refresh:  make(map[string]string),
		tables:   make(map[string]map[string]map[string]any),
	}

	for _, t := range schema.Tables() {
		s.tables[t.Name] = make(map[string]map[string]any)
	}

	return s
}

// AddUser registers an account and returns its generated user id.
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := user{id: uuid.NewString(), email: email, password: password}
	s.users[email] = u

	return u.id
}

// Seed stores a wire row directly, bypassing auth and the merge guard.
// Tests use it to stage remote-only state.
func (s *Server) Seed(table string, row map[string]any) error {
	if _, ok := schema.ByName(table); !ok {
		return fmt.Errorf("devserver: unknown table %q", table)
	}

	id, _ := row[schema.ColID].(string)
	if id == "" {
		return fmt.Errorf("devserver: seed row for %s has no id", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[table][id] = cloneRow(row)

	return nil
}

// Rows returns a snapshot of one table, ordered by id. The copies are
// safe to mutate.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]map[string]any, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		rows = append(rows, cloneRow(row))
	}

	sort.Slice(rows, func(i, j int) bool {
		a, _ := rows[i][schema.ColID].(string)
		b, _ := rows[j][schema.ColID].(string)

		return a < b
	})

	return rows
}

// Row returns a copy of one stored row, or false when absent.
func (s *Server) Row(table, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tables[table][id]
	if !ok {
		return nil, false
	}

	return cloneRow(row), true
}

// Handler assembles the HTTP surface: the auth endpoint is open (apikey
// only), everything under /rest/v1 needs a bearer session.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/v1/token", s.handleToken)

	r.Route("/rest/v1", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", s.handleRoot)
		r.Post("/{table}", s.handleWrite)
		r.Get("/{table}", s.handleSelect)
		r.Head("/{table}", s.handleSelect)
	})

	return r
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}

	return out
}
