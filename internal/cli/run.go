package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bld-ci/bld/internal/bldlog"
	"github.com/bld-ci/bld/internal/execctx"
	"github.com/bld-ci/bld/internal/interpreter"
	"github.com/bld-ci/bld/internal/pipeline"
	"github.com/bld-ci/bld/internal/platform"
	"github.com/bld-ci/bld/internal/token"
	"github.com/bld-ci/bld/internal/validate"
)

// stdoutSink writes interpreter output straight to the terminal,
// satisfying platform.LineSink without going through the Log Sink's
// file/fsnotify machinery a local run has no use for.
type stdoutSink struct{}

func (stdoutSink) WriteLine(line string) { fmt.Println(line) }

func newRunCommand() *cobra.Command {
	var inputFlags []string
	var envFlags []string

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline locally without a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd, args[0], inputFlags, envFlags)
		},
	}

	cmd.Flags().StringArrayVarP(&inputFlags, "input", "i", nil, "pipeline input as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "environment variable as key=value (repeatable)")

	return cmd
}

func runLocal(cmd *cobra.Command, path string, inputFlags, envFlags []string) error {
	log := bldlog.New(bldlog.FromEnv())

	raw, err := os.ReadFile(path)
	if err != nil {
		return Fail(ExitNotFound, fmt.Errorf("reading pipeline: %w", err))
	}

	p, err := pipeline.Load(raw)
	if err != nil {
		return Fail(ExitUsage, fmt.Errorf("loading pipeline: %w", err))
	}

	dir := filepath.Dir(path)
	v := validate.New(validate.FileLocalResolver{Root: dir}, nil, false)
	inputs := parseKVFlags(inputFlags)
	resolved, err := v.Validate(p, inputs)
	if err != nil {
		return Fail(ExitUsage, fmt.Errorf("validating pipeline: %w", err))
	}

	drv, err := buildLocalPlatform(cmd.Context(), p)
	if err != nil {
		return Fail(ExitRunFailed, fmt.Errorf("setting up platform: %w", err))
	}
	defer drv.Dispose(cmd.Context(), false)

	runID := uuid.NewString()
	wd, err := os.Getwd()
	if err != nil {
		wd = dir
	}
	tok := token.New(wd, dir, runID, time.Now(), resolved, parseKVFlags(envFlags))

	loader := pipeline.NewFileLoader(dir)
	outcome, runErr := interpreter.Run(cmd.Context(), interpreter.Request{
		Pipeline: p,
		Exec:     execctx.NewEmpty(runID),
		Platform: drv,
		Tokens:   tok,
		Sink:     stdoutSink{},
		Loader:   loader,
	})

	log.Info("run finished", "run_id", runID, "outcome", outcome.String())

	if runErr != nil {
		return Fail(ExitRunFailed, runErr)
	}
	return nil
}

func buildLocalPlatform(ctx context.Context, p *pipeline.Pipeline) (platform.Driver, error) {
	switch p.RunsOn.Kind {
	case pipeline.RunsOnMachine:
		return platform.NewMachine()
	case pipeline.RunsOnImage:
		return platform.NewContainer(ctx, platform.ContainerSpec{Image: p.RunsOn.Image}, "bld-local-"+uuid.NewString())
	case pipeline.RunsOnDockerfile:
		return platform.NewContainer(ctx, platform.ContainerSpec{Dockerfile: p.RunsOn.Dockerfile}, "bld-local-"+uuid.NewString())
	default:
		return nil, fmt.Errorf("unknown runs_on kind %d", p.RunsOn.Kind)
	}
}

func parseKVFlags(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		out[k] = v
	}
	return out
}
