package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ctxKey string

// ctxUserID carries the authenticated user id through request contexts.
const ctxUserID ctxKey = "user_id"

// grantRequest is the union of the password and refresh grant bodies.
type grantRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// handleToken serves POST /auth/v1/token?grant_type=..., the GoTrue
// grant endpoint. Refresh tokens rotate on every exchange, like the
// real service.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") == "" {
		writeAuthError(w, http.StatusUnauthorized, "missing_api_key", "No API key found in request")
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid_request", "could not decode grant body")
		return
	}

	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		s.passwordGrant(w, req)
	case "refresh_token":
		s.refreshGrant(w, req)
	default:
		writeAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type "+grant)
	}
}

func (s *Server) passwordGrant(w http.ResponseWriter, req grantRequest) {
	s.mu.Lock()
	u, ok := s.users[req.Email]
	s.mu.Unlock()

	if !ok || u.password != req.Password {
		s.logger.Info("devserver: password grant rejected", slog.String("email", req.Email))
		writeAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")

		return
	}

	s.issueSession(w, u)
}

func (s *Server) refreshGrant(w http.ResponseWriter, req grantRequest) {
	s.mu.Lock()
	userID, ok := s.refresh[req.RefreshToken]
	if ok {
		delete(s.refresh, req.RefreshToken) // rotation: each token is good once
	}
	u, found := s.userByID(userID)
	s.mu.Unlock()

	if !ok || !found {
		s.logger.Info("devserver: refresh grant rejected")
		writeAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token")

		return
	}

	s.issueSession(w, u)
}

// userByID scans the user map. Called with s.mu held.
func (s *Server) userByID(id string) (user, bool) {
	for _, u := range s.users {
		if u.id == id {
			return u, true
		}
	}

	return user{}, false
}

// issueSession mints an HS256 access token plus a fresh refresh token
// and writes the GoTrue grant response.
func (s *Server) issueSession(w http.ResponseWriter, u user) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   u.id,
		"email": u.email,
		"role":  "authenticated",
		"aud":   "authenticated",
		"iat":   now.Unix(),
		"exp":   now.Add(s.TokenTTL).Unix(),
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "server_error", "signing token: "+err.Error())
		return
	}

	refresh := uuid.NewString()

	s.mu.Lock()
	s.refresh[refresh] = u.id
	s.mu.Unlock()

	s.logger.Debug("devserver: session issued",
		slog.String("user_id", u.id),
		slog.Time("expiry", now.Add(s.TokenTTL)),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int64(s.TokenTTL / time.Second),
		"refresh_token": refresh,
		"user": map[string]string{
			"id":    u.id,
			"email": u.email,
		},
	})
}

// requireSession authenticates /rest/v1 requests: apikey header plus a
// bearer token signed with the server secret. The subject claim becomes
// the row-scoping user id.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") == "" {
			writePGError(w, http.StatusUnauthorized, "", "No API key found in request")
			return
		}

		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			writePGError(w, http.StatusUnauthorized, "PGRST301", "expected Bearer authorization")
			return
		}

		claims := jwt.MapClaims{}

		tok, err := jwt.ParseWithClaims(strings.TrimPrefix(raw, "Bearer "), claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}

			return s.secret, nil
		})
		if err != nil || !tok.Valid {
			s.logger.Info("devserver: rejected bearer token", slog.Any("error", err))
			writePGError(w, http.StatusUnauthorized, "PGRST301", "JWT invalid or expired")

			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			writePGError(w, http.StatusUnauthorized, "PGRST301", "JWT has no subject")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, sub)))
	})
}

// sessionUserID returns the authenticated user id stored by
// requireSession.
func sessionUserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxUserID).(string)

	return id
}

// writeAuthError writes the GoTrue error shape.
func writeAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
