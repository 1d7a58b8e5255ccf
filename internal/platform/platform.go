// Package platform implements the Platform Driver: the abstraction
// over "machine" (local shell) and "container" execution targets that
// the Step Interpreter drives. Both variants expose push/get/shell/
// keep-alive/dispose; the interpreter never branches on which one it
// holds.
package platform

import (
	"context"
)

// LineSink receives one streamed output line at a time. internal/logsink
// implements this to append lines to a run's log file.
type LineSink interface {
	WriteLine(line string)
}

// StopChecker is the subset of execctx.Context the platform driver
// polls during long-running operations. Kept narrow so platform does
// not import execctx (which would create a dependency cycle once the
// interpreter wires both together).
type StopChecker interface {
	CheckStop(ctx context.Context) error
}

// Driver is the polymorphic platform interface implemented by Machine
// and Container.
type Driver interface {
	// Push copies a file from the host into the platform (host temp
	// dir for Machine, container filesystem for Container).
	Push(ctx context.Context, from, to string) error

	// Get copies a file from the platform back to the host.
	Get(ctx context.Context, from, to string) error

	// Shell runs cmd in workingDir (runner cwd if empty), streaming
	// stdout/stderr line-by-line to sink and polling stop every
	// pollInterval. It returns blderr.Cancelled if stop was observed,
	// blderr.PlatformError on I/O failure, or blderr.Failed for a
	// nonzero exit.
	Shell(ctx context.Context, workingDir, cmd string, stop StopChecker, sink LineSink) error

	// KeepAlive marks the platform as shared with a child runner so
	// the child's own Dispose call does not tear it down. The mark is
	// consumed by the next Dispose call, not held indefinitely.
	KeepAlive()

	// Dispose releases the platform's resources. inChild is true when
	// called from a recursive child runner; in that case a container
	// is never stopped/removed (only the outermost runner's Dispose
	// does that), and a Machine's temp dir is left for the parent to
	// clean up.
	Dispose(ctx context.Context, inChild bool) error
}
