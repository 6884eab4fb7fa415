// Package session signs users in against the GoTrue auth endpoint and
// hands out bearer tokens for the data API. Tokens are persisted by
// tokenfile/ and refreshed silently through the refresh grant; the
// Manager implements postgrest.TokenSource.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/harjula/fitsync-go/internal/tokenfile"
)

// ErrNotLoggedIn is returned when no session file exists at the
// configured path.
var ErrNotLoggedIn = errors.New("session: not logged in (run 'fitsync login')")

// Config locates the GoTrue deployment and the session file. The caller
// is responsible for computing TokenPath (via config.TokenPath); this
// decouples session/ from config/ — session/ has no config import.
type Config struct {
	BaseURL    string // project base, e.g. https://abc.supabase.co
	AnonKey    string // apikey header, sent on every auth request
	TokenPath  string
	HTTPClient *http.Client // nil means http.DefaultClient
	Logger     *slog.Logger // nil means slog.Default()
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	return http.DefaultClient
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.Default()
}

// Manager hands out valid bearer tokens for one signed-in user,
// refreshing through GoTrue when the cached token expires.
type Manager struct {
	src    oauth2.TokenSource
	userID string
	email  string
	logger *slog.Logger
}

// Login performs the password grant and persists the session:
//  1. POST /auth/v1/token?grant_type=password
//  2. Saves the token to disk at cfg.TokenPath (0600, atomic)
//  3. Returns a Manager that refreshes silently from then on
//
// The returned Manager binds ctx to its refresh requests. ctx must
// outlive the Manager — pass context.Background() for long-lived
// sessions.
func Login(ctx context.Context, cfg Config, email, password string) (*Manager, error) {
	logger := cfg.logger()
	logger.Info("signing in",
		slog.String("url", cfg.BaseURL),
		slog.String("email", email),
	)

	tok, tr, err := passwordGrant(ctx, cfg, email, password)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		tokenfile.MetaUserID: tr.User.ID,
		tokenfile.MetaEmail:  tr.User.Email,
	}

	if saveErr := tokenfile.Save(cfg.TokenPath, tok, meta); saveErr != nil {
		return nil, fmt.Errorf("session: saving token: %w", saveErr)
	}

	logger.Info("login successful",
		slog.String("path", cfg.TokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.String("user_id", tr.User.ID),
	)

	return newManager(ctx, cfg, tok, meta), nil
}

// FromPath resumes the session saved at cfg.TokenPath. Returns
// ErrNotLoggedIn if no session file exists.
//
// The returned Manager binds ctx to its refresh requests. ctx must
// outlive the Manager — pass context.Background() for long-lived
// sessions.
func FromPath(ctx context.Context, cfg Config) (*Manager, error) {
	tok, meta, err := tokenfile.Load(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	cfg.logger().Info("loaded saved session",
		slog.String("path", cfg.TokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	return newManager(ctx, cfg, tok, meta), nil
}

// Logout removes the session file at the given path. Returns nil if the
// file does not exist (already signed out).
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no session file to remove (already signed out)",
			slog.String("path", tokenPath),
		)

		return nil
	}

	if err != nil {
		return fmt.Errorf("session: removing token file: %w", err)
	}

	logger.Info("logout: removed session file", slog.String("path", tokenPath))

	return nil
}

// newManager assembles the token source chain: refresh grant at the
// bottom, persistence in the middle, reuse cache on top.
func newManager(ctx context.Context, cfg Config, tok *oauth2.Token, meta map[string]string) *Manager {
	logger := cfg.logger()

	refresh := &refreshSource{ctx: ctx, cfg: cfg, refreshToken: tok.RefreshToken}
	saving := &savingSource{src: refresh, path: cfg.TokenPath, meta: meta, logger: logger}

	userID, err := subjectClaim(tok.AccessToken)
	if err != nil {
		// Fall back to the identity cached at login.
		logger.Warn("could not read subject claim from access token",
			slog.String("error", err.Error()),
		)
		userID = meta[tokenfile.MetaUserID]
	}

	return &Manager{
		src:    oauth2.ReuseTokenSource(tok, saving),
		userID: userID,
		email:  meta[tokenfile.MetaEmail],
		logger: logger,
	}
}

// Token returns a valid bearer token, refreshing it first if the cached
// one has expired. Implements postgrest.TokenSource.
func (m *Manager) Token() (string, error) {
	t, err := m.src.Token()
	if err != nil {
		m.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("session: obtaining token: %w", err)
	}

	m.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}

// UserID is the signed-in user's id: the JWT subject claim, falling
// back to the identity cached at login. Rows sync scoped to this id.
func (m *Manager) UserID() string { return m.userID }

// Email is the signed-in user's email, cached at login. May be empty
// for sessions created by older versions.
func (m *Manager) Email() string { return m.email }

// subjectClaim extracts the sub claim from the access JWT without
// verifying the signature. Verification is the server's job; the client
// only needs the id for row scoping.
func subjectClaim(raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("session: parsing access token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("session: access token has no subject claim")
	}

	return sub, nil
}
