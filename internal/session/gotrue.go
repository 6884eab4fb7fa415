package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/harjula/fitsync-go/internal/tokenfile"
)

// tokenEndpoint is the GoTrue grant endpoint under the project base.
// Both the password and refresh grants POST here, selected by the
// grant_type query parameter.
const tokenEndpoint = "/auth/v1/token"

// maxAuthBody caps how much of an auth response is read. Token grants
// are small; anything larger is a misbehaving endpoint.
const maxAuthBody = 1 << 20

// tokenResponse is the GoTrue grant response, shared by the password
// and refresh grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"` // epoch seconds; newer servers only
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// expiry resolves the token expiry, preferring the absolute expires_at
// over the relative expires_in.
func (r tokenResponse) expiry(now time.Time) time.Time {
	if r.ExpiresAt > 0 {
		return time.Unix(r.ExpiresAt, 0)
	}

	if r.ExpiresIn > 0 {
		return now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	return time.Time{}
}

// gotrueError is the error body. GoTrue has shipped two shapes over the
// years ({error, error_description} and {code, msg}); accept both.
type gotrueError struct {
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e gotrueError) message() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Msg != "":
		return e.Msg
	case e.ErrorCode != "":
		return e.ErrorCode
	default:
		return "unknown error"
	}
}

// passwordGrant signs in with email and password.
func passwordGrant(ctx context.Context, cfg Config, email, password string) (*oauth2.Token, tokenResponse, error) {
	return tokenGrant(ctx, cfg, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// refreshGrant exchanges a refresh token for a fresh session.
func refreshGrant(ctx context.Context, cfg Config, refreshToken string) (*oauth2.Token, tokenResponse, error) {
	return tokenGrant(ctx, cfg, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// tokenGrant POSTs one grant request and maps the response onto an
// oauth2.Token. Token values are never logged.
func tokenGrant(ctx context.Context, cfg Config, grant string, body map[string]string) (*oauth2.Token, tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, tokenResponse{}, fmt.Errorf("session: encoding %s grant: %w", grant, err)
	}

	u := strings.TrimRight(cfg.BaseURL, "/") + tokenEndpoint + "?grant_type=" + grant

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, tokenResponse{}, fmt.Errorf("session: building %s grant request: %w", grant, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", cfg.AnonKey)

	resp, err := cfg.httpClient().Do(req)
	if err != nil {
		return nil, tokenResponse{}, fmt.Errorf("session: %s grant: %w", grant, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthBody))
	if err != nil {
		return nil, tokenResponse{}, fmt.Errorf("session: reading %s grant response: %w", grant, err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge gotrueError
		_ = json.Unmarshal(data, &ge) // best effort; fall back to the generic message

		return nil, tokenResponse{}, fmt.Errorf("session: %s grant rejected (HTTP %d): %s",
			grant, resp.StatusCode, ge.message())
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, tokenResponse{}, fmt.Errorf("session: decoding %s grant response: %w", grant, err)
	}

	if tr.AccessToken == "" {
		return nil, tokenResponse{}, fmt.Errorf("session: %s grant response missing access token", grant)
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tokenType,
		RefreshToken: tr.RefreshToken,
		Expiry:       tr.expiry(time.Now()),
	}

	return tok, tr, nil
}

// refreshSource mints fresh tokens through the refresh grant. GoTrue
// rotates refresh tokens on every exchange, so the stored one is
// replaced each time. oauth2.ReuseTokenSource holds its mutex while
// calling Token, which serializes access to the field.
//
// ctx is bound at construction, mirroring oauth2.Config.TokenSource;
// it must outlive the Manager.
type refreshSource struct {
	ctx          context.Context
	cfg          Config
	refreshToken string
}

func (r *refreshSource) Token() (*oauth2.Token, error) {
	if r.refreshToken == "" {
		return nil, ErrNotLoggedIn
	}

	r.cfg.logger().Debug("refreshing session token")

	tok, _, err := refreshGrant(r.ctx, r.cfg, r.refreshToken)
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken != "" {
		r.refreshToken = tok.RefreshToken
	}

	return tok, nil
}

// savingSource persists every token the wrapped source mints, keeping
// the on-disk session current across silent refreshes. Upstream oauth2
// has no refresh callback, so persistence rides the source chain:
// ReuseTokenSource only consults the wrapped source when its cached
// token has expired, so each refresh is saved exactly once.
type savingSource struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	if saveErr := tokenfile.Save(s.path, tok, s.meta); saveErr != nil {
		// The refreshed token still works for this process; losing the
		// write only costs a re-login after restart.
		s.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.path),
			slog.String("error", saveErr.Error()),
		)
	} else {
		s.logger.Info("persisted refreshed token",
			slog.String("path", s.path),
			slog.Time("expiry", tok.Expiry),
		)
	}

	return tok, nil
}
