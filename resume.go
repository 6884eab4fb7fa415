package main

import (
	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume background syncing",
		RunE:  runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetPaused(ctx, false); err != nil {
		return err
	}

	statusf("Sync resumed; the next cycle runs on schedule.\n")

	return nil
}
