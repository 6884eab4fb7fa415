// Hermetic stand-in for the hosted backend, for development against a
// clean slate: GoTrue token grants plus a PostgREST-style data API over
// in-memory tables.
//
// Usage:
//
//	go run ./cmd/fitsync-devserver --user alice@example.com:hunter2
//
// Point fitsync at it with remote.url = "http://localhost:54321" and
// any non-empty anon key.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/harjula/fitsync-go/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":54321", "listen address")
	secret := flag.String("secret", "fitsync-dev-secret", "HS256 signing secret for session tokens")
	verbose := flag.Bool("verbose", false, "log every request at debug level")

	var accounts []string

	flag.Func("user", "account as email:password (repeatable)", func(v string) error {
		if !strings.Contains(v, ":") {
			return fmt.Errorf("want email:password, got %q", v)
		}

		accounts = append(accounts, v)

		return nil
	})

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv := devserver.New(*secret, logger)

	if len(accounts) == 0 {
		accounts = []string{"dev@example.com:devpass"}
	}

	for _, acct := range accounts {
		email, password, _ := strings.Cut(acct, ":")
		id := srv.AddUser(email, password)
		logger.Info("account registered", slog.String("email", email), slog.String("user_id", id))
	}

	logger.Info("devserver listening", slog.String("addr", *addr))

	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		fmt.Fprintf(os.Stderr, "devserver: %v\n", err)
		os.Exit(1)
	}
}
