package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bld-ci/bld/internal/config"
)

func newStopCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Request cancellation of a running or queued run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return Fail(ExitUsage, fmt.Errorf("loading config: %w", err))
			}
			store, err := openStore(cfg)
			if err != nil {
				return Fail(ExitRunFailed, fmt.Errorf("opening run store: %w", err))
			}

			runID := args[0]
			// A thin client only sets the stopped flag the store
			// already persists; the worker's own execctx.Handle picks
			// this up on its next poll (at most cacheTTL stale), and a
			// still-queued run is cancelled the moment its worker
			// starts and performs its first check, since SetRunning
			// happens before any step atom runs.
			if err := store.SetStopped(cmd.Context(), runID); err != nil {
				return Fail(ExitRunFailed, fmt.Errorf("stopping run %s: %w", runID, err))
			}
			fmt.Printf("stop requested for run %s\n", runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to bld config file")
	return cmd
}
