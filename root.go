package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harjula/fitsync-go/internal/config"
	"github.com/harjula/fitsync-go/internal/session"
	"github.com/harjula/fitsync-go/internal/store"
	"github.com/harjula/fitsync-go/internal/tokenfile"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE, available to every subcommand after the root
// pre-run phase. resolvedCfgPath is where the file was (or would have
// been) read from, for `config show` and error messages.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// httpClientTimeout bounds every auth and REST request so a dead remote
// cannot hang a CLI command indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fitsync",
		Short: "Offline-first fitness data sync",
		Long: `fitsync keeps a local SQLite copy of your training data and synchronizes
it with a Supabase-style backend. All writes land locally first; a
background cycle uploads pending rows and downloads newer remote ones,
resolving concurrent edits by last-write-wins.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		// Every command sees the resolved config. Resolution is lenient
		// (a missing file means defaults), so there is no skip list;
		// commands that need the remote call requireRemote themselves.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override
// chain (defaults, file, environment) and stores the result for
// subcommands.
func loadConfig() error {
	cfg, path, err := config.Resolve(flagConfigPath, bootstrapLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// bootstrapLogger builds a flags-only logger for use before the config
// is resolved (config loading itself wants to warn about unknown keys).
// Default level is Warn so a clean startup stays silent.
func bootstrapLogger() *slog.Logger {
	level := slog.LevelWarn

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. Config provides the baseline level and format;
// --verbose and --quiet override the level because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	if resolvedCfg != nil {
		switch resolvedCfg.Log.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Log.Format
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// requireRemote ensures the config names a backend. Commands that touch
// the network call this first; local-only commands never do.
func requireRemote() error {
	if resolvedCfg.Remote.URL == "" {
		return errors.New("remote.url is not configured (set it in config.toml or FITSYNC_REMOTE_URL)")
	}

	if resolvedCfg.Remote.AnonKey == "" {
		return errors.New("remote.anon_key is not configured (set it in config.toml or FITSYNC_REMOTE_ANON_KEY)")
	}

	return nil
}

// sessionConfig assembles the session package's config from the
// resolved CLI config.
func sessionConfig(logger *slog.Logger) session.Config {
	return session.Config{
		BaseURL:    resolvedCfg.Remote.URL,
		AnonKey:    resolvedCfg.Remote.AnonKey,
		TokenPath:  resolvedCfg.Auth.TokenPath,
		HTTPClient: defaultHTTPClient(),
		Logger:     logger,
	}
}

// openStore opens the local database at the configured path, creating
// the parent directory on first run.
func openStore(ctx context.Context, logger *slog.Logger) (*store.Store, error) {
	path := resolvedCfg.Store.Path

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	st, err := store.Open(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	return st, nil
}

// currentIdentity returns the signed-in user id and email from the
// saved session metadata, without touching the network. Local commands
// (log, sync) use it to stamp and scope rows.
func currentIdentity() (userID, email string, err error) {
	meta, err := tokenfile.ReadMeta(resolvedCfg.Auth.TokenPath)
	if err != nil {
		return "", "", err
	}

	if meta[tokenfile.MetaUserID] == "" {
		return "", "", session.ErrNotLoggedIn
	}

	return meta[tokenfile.MetaUserID], meta[tokenfile.MetaEmail], nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
