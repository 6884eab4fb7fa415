// Package tokenfile handles reading and writing the session token file.
// The file stores the GoTrue session (access JWT + refresh token) as an
// oauth2.Token alongside cached identity metadata (user id, email).
// This is a leaf package imported by both config/ and session/ to avoid
// duplication and break the config→session import cycle.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the state directory.
const DirPerms = 0o700

// Meta keys cached in the token file at login so commands can show who
// is signed in without parsing the JWT.
const (
	MetaUserID = "user_id"
	MetaEmail  = "email"
)

// File is the on-disk format for the session. The oauth2.Token carries
// the access JWT, the refresh token and the expiry; Meta carries the
// identity cache.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a saved session from disk. Returns the token and any
// cached metadata. Returns (nil, nil, nil) if the file does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	if tf.Token.AccessToken == "" && tf.Token.RefreshToken == "" {
		return nil, nil, fmt.Errorf("tokenfile: %s has empty credentials (re-login required)", path)
	}

	return tf.Token, tf.Meta, nil
}

// ReadMeta reads just the identity metadata from a session file without
// loading the credentials. Returns (nil, nil) if the file does not exist.
func ReadMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var parsed struct {
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return parsed.Meta, nil
}

// Save writes a session file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	if tok == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	tf := File{Token: tok, Meta: meta}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial session file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}
