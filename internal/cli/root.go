// Package cli assembles the bld command tree: run, server, worker,
// stop, hist, list, and monit, each a thin cobra.Command wired
// against the engine's internal packages.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExitError carries the process exit code a command wants on failure,
// letting main() stay a one-line HandleExitError(err) call.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Exit codes for CLI-level failures, distinct from the worker process
// exit codes in internal/coordinator (those apply only to `bld worker`).
const (
	ExitUsage     = 1
	ExitNotFound  = 2
	ExitRunFailed = 3
)

// Fail wraps err as an ExitError with the given code.
func Fail(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// NewRootCommand builds the bld root command with its global flags
// and every subcommand attached.
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bld",
		Short: "bld runs CI/CD pipelines against machines and containers",
		Long: `bld loads a versioned pipeline definition, validates its inputs,
and drives it step by step against a machine or container platform,
either locally or through a long-running server process that queues
runs across a bounded worker pool.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	cmd.AddCommand(
		newRunCommand(),
		newServerCommand(),
		newWorkerCommand(),
		newStopCommand(),
		newHistCommand(),
		newListCommand(),
		newMonitCommand(),
	)

	return cmd
}

// HandleExitError prints err (if any) and exits the process with the
// code an *ExitError carries, or ExitRunFailed otherwise.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	os.Exit(ExitRunFailed)
}
