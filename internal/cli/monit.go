package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bld-ci/bld/internal/config"
	"github.com/bld-ci/bld/internal/logsink"
)

func newMonitCommand() *cobra.Command {
	var cfgPath string
	var follow bool

	cmd := &cobra.Command{
		Use:   "monit <run-id>",
		Short: "Print (and optionally follow) a run's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return Fail(ExitUsage, fmt.Errorf("loading config: %w", err))
			}

			runID := args[0]
			scanner := logsink.NewScanner(cfg.LogsDir, runID)

			if !follow {
				lines, err := scanner.ReadAll()
				if err != nil {
					return Fail(ExitNotFound, fmt.Errorf("reading log for run %s: %w", runID, err))
				}
				for _, line := range lines {
					fmt.Println(line)
				}
				return nil
			}

			// out is never closed: Follow stops sending once done
			// fires, and the process exits with this command, so the
			// printer goroutine below needs no explicit teardown.
			out := make(chan string, 64)
			go func() {
				for line := range out {
					fmt.Println(line)
				}
			}()

			if err := scanner.Follow(out, cmd.Context().Done()); err != nil {
				return Fail(ExitRunFailed, fmt.Errorf("following log for run %s: %w", runID, err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to bld config file")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new lines as they are written")
	return cmd
}
