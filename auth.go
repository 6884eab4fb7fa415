package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/harjula/fitsync-go/internal/session"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save a session token",
		Long: `Authenticate against the configured backend with email and password.

The session (access token plus refresh token) is saved to the token file
and refreshed automatically by later commands. Run 'fitsync logout' to
remove it.`,
		RunE: runLogin,
	}

	cmd.Flags().String("email", "", "account email (prompted if omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session token",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := requireRemote(); err != nil {
		return err
	}

	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		var err error

		email, err = promptLine("Email: ")
		if err != nil {
			return err
		}
	}

	if email == "" {
		return errors.New("email is required")
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	if password == "" {
		return errors.New("password is required")
	}

	mgr, err := session.Login(cmd.Context(), sessionConfig(logger), email, password)
	if err != nil {
		return err
	}

	logger.Info("login successful", "email", mgr.Email(), "user_id", mgr.UserID())
	statusf("Signed in as %s.\n", mgr.Email())

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := session.Logout(resolvedCfg.Auth.TokenPath, logger); err != nil {
		return err
	}

	statusf("Signed out.\n")

	return nil
}

// promptLine prints a prompt to stderr and reads one trimmed line from
// stdin. Prompts go to stderr so piped stdout stays clean.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo when stdin is a
// terminal, and as a plain line otherwise (so tests and scripts can
// pipe it in).
func promptPassword(prompt string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return promptLine(prompt)
	}

	fmt.Fprint(os.Stderr, prompt)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}
