package main

import (
	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause background syncing",
		Long: `Set the store's paused flag. A running watch daemon keeps its timer but
skips cycles until resume; the flag survives restarts because it lives
in the local database.`,
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetPaused(ctx, true); err != nil {
		return err
	}

	statusf("Sync paused. Run 'fitsync resume' to continue.\n")

	return nil
}
