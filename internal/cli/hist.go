package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bld-ci/bld/internal/config"
	"github.com/bld-ci/bld/internal/runstore"
)

func newHistCommand() *cobra.Command {
	var cfgPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "hist",
		Short: "Show recent run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRuns(cmd, cfgPath, runstore.Filter{Limit: limit})
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to bld config file")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs to show")
	return cmd
}

func newListCommand() *cobra.Command {
	var cfgPath string
	var state string
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, optionally filtered by state or pipeline name",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := runstore.Filter{Name: name}
			if state != "" {
				s := runstore.State(state)
				f.State = &s
			}
			return printRuns(cmd, cfgPath, f)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to bld config file")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (initial, queued, running, finished, faulted)")
	cmd.Flags().StringVar(&name, "pipeline", "", "filter by pipeline name")
	return cmd
}

func printRuns(cmd *cobra.Command, cfgPath string, f runstore.Filter) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return Fail(ExitUsage, fmt.Errorf("loading config: %w", err))
	}
	store, err := openStore(cfg)
	if err != nil {
		return Fail(ExitRunFailed, fmt.Errorf("opening run store: %w", err))
	}

	lister, ok := store.(runstore.RunLister)
	if !ok {
		return Fail(ExitRunFailed, fmt.Errorf("configured backend does not support listing runs"))
	}

	runs, err := lister.List(cmd.Context(), f)
	if err != nil {
		return Fail(ExitRunFailed, fmt.Errorf("listing runs: %w", err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tPIPELINE\tUSER\tSTATE\tSTOPPED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", r.ID, r.Name, r.User, r.State, r.Stopped)
	}
	return w.Flush()
}
