package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/bld-ci/bld/internal/bldlog"
	"github.com/bld-ci/bld/internal/config"
	"github.com/bld-ci/bld/internal/coordinator"
	"github.com/bld-ci/bld/internal/ipc"
	"github.com/bld-ci/bld/internal/pipeline"
	"github.com/bld-ci/bld/internal/runstore"
)

// newWorkerCommand builds the subcommand the Supervisor invokes for
// every dispatched run (internal/supervisor.defaultArgs). Its flag
// shape must match that function exactly.
func newWorkerCommand() *cobra.Command {
	var runID string
	var pipelineName string
	var inputs []string
	var env []string
	var cfgPath string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one pipeline as a worker child process (invoked by bld server)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := runWorker(cmd.Context(), runID, pipelineName, inputs, env, cfgPath)
			if code != coordinator.ExitCompleted {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run id assigned by the supervisor")
	cmd.Flags().StringVar(&pipelineName, "pipeline", "", "pipeline name to load and run")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "resolved input as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment variable as key=value (repeatable)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to bld config file")
	_ = cmd.MarkFlagRequired("run-id")
	_ = cmd.MarkFlagRequired("pipeline")

	return cmd
}

func runWorker(ctx context.Context, runID, pipelineName string, inputFlags, envFlags []string, cfgPath string) int {
	log := bldlog.New(bldlog.FromEnv())

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("worker config load failed", "error", err)
		return coordinator.ExitFailedBeforeRun
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Error("worker store open failed", "error", err)
		return coordinator.ExitFailedBeforeRun
	}

	dir := projectDir()
	loader := pipeline.NewFileLoader(dir)
	raw, err := loader.Read(pipelineName)
	if err != nil {
		log.Error("worker pipeline lookup failed", "run_id", runID, "pipeline", pipelineName, "error", err)
		return coordinator.ExitFailedBeforeRun
	}

	return coordinator.Run(ctx, coordinator.Config{
		RunID:        runID,
		PipelineName: pipelineName,
		PipelineYAML: raw,
		Inputs:       ipc.ParseKV(inputFlags),
		Env:          ipc.ParseKV(envFlags),
		RootDir:      dir,
		ProjectDir:   dir,
		LogsDir:      cfg.LogsDir,
		SocketPath:   cfg.IPCSocket,
		Store:        store,
		Loader:       loader,
		Log:          log,
	})
}

// projectDir is where pipeline YAML files live: the directory bld
// server was started from. The CLI has no separate "project root"
// concept beyond the current working directory.
func projectDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func openStore(cfg *config.Config) (runstore.RunStore, error) {
	if cfg.Backend == config.BackendSQLite && cfg.DBPath != "" {
		return runstore.OpenSQLite(cfg.DBPath)
	}
	return runstore.NewMemory(), nil
}
