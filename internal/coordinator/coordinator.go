// Package coordinator is the Run Coordinator: the glue a worker child
// process runs to identify itself to the Supervisor over the control
// channel, load and validate its pipeline, drive the Step Interpreter
// against a Platform Driver, and report completion.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/execctx"
	"github.com/bld-ci/bld/internal/interpreter"
	"github.com/bld-ci/bld/internal/ipc"
	"github.com/bld-ci/bld/internal/logsink"
	"github.com/bld-ci/bld/internal/pipeline"
	"github.com/bld-ci/bld/internal/platform"
	"github.com/bld-ci/bld/internal/runstore"
	"github.com/bld-ci/bld/internal/token"
	"github.com/bld-ci/bld/internal/validate"
)

// Exit codes per the worker process contract: 0 on Completed, 1 on
// unrecoverable failure before run start, 2 on interpreter-reported
// Failed, 3 on Cancelled.
const (
	ExitCompleted       = 0
	ExitFailedBeforeRun = 1
	ExitFailed          = 2
	ExitCancelled       = 3
)

// Config bundles everything one worker invocation needs.
type Config struct {
	RunID        string
	PipelineName string
	PipelineYAML []byte
	Inputs       map[string]string
	Env          map[string]string

	RootDir    string
	ProjectDir string
	LogsDir    string
	SocketPath string

	Store  runstore.RunStore
	Loader interpreter.Loader
	Remote interpreter.RemoteRunner

	Log *slog.Logger
}

// Run executes one worker invocation end to end and returns the
// process exit code the caller should use.
func Run(ctx context.Context, cfg Config) int {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	conn, err := connect(cfg.SocketPath, os.Getpid())
	if err != nil {
		cfg.Log.Error("worker handshake failed", "run_id", cfg.RunID, "error", err)
		return ExitFailedBeforeRun
	}
	defer conn.Close()

	p, err := pipeline.Load(cfg.PipelineYAML)
	if err != nil {
		cfg.Log.Error("pipeline load failed", "run_id", cfg.RunID, "error", err)
		_ = cfg.Store.MarkFaulted(ctx, cfg.RunID)
		return ExitFailedBeforeRun
	}

	v := validate.New(nil, nil, false)
	resolved, err := v.Validate(p, cfg.Inputs)
	if err != nil {
		cfg.Log.Error("pipeline validation failed", "run_id", cfg.RunID, "error", err)
		_ = cfg.Store.MarkFaulted(ctx, cfg.RunID)
		return ExitFailedBeforeRun
	}

	sink, err := logsink.Open(cfg.LogsDir, cfg.RunID)
	if err != nil {
		cfg.Log.Error("log sink open failed", "run_id", cfg.RunID, "error", err)
		_ = cfg.Store.MarkFaulted(ctx, cfg.RunID)
		return ExitFailedBeforeRun
	}
	defer sink.Close()

	drv, err := buildPlatform(ctx, p, cfg.RunID)
	if err != nil {
		cfg.Log.Error("platform setup failed", "run_id", cfg.RunID, "error", err)
		_ = cfg.Store.MarkFaulted(ctx, cfg.RunID)
		return ExitFailedBeforeRun
	}
	defer drv.Dispose(ctx, false)

	exec := newFastStop(cfg.RunID, cfg.Store)
	stopWatch(conn, exec)

	if err := exec.SetRunning(); err != nil {
		_ = cfg.Store.MarkFaulted(ctx, cfg.RunID)
		return ExitFailedBeforeRun
	}

	tok := token.New(cfg.RootDir, cfg.ProjectDir, cfg.RunID, time.Now(), resolved, cfg.Env)

	outcome, runErr := interpreter.Run(ctx, interpreter.Request{
		Pipeline: p,
		Exec:     exec,
		Platform: drv,
		Tokens:   tok,
		Sink:     sink,
		Loader:   cfg.Loader,
		Remote:   cfg.Remote,
	})

	switch outcome {
	case interpreter.Ok:
		_ = exec.SetFinished()
	default:
		_ = exec.SetFaulted()
	}

	_ = conn.WriteMessage(ipc.Message{Completed: &ipc.Completed{}})

	if runErr != nil {
		return exitFor(outcome)
	}
	return ExitCompleted
}

func exitFor(o interpreter.Outcome) int {
	switch o {
	case interpreter.Cancelled:
		return ExitCancelled
	case interpreter.Failed:
		return ExitFailed
	default:
		return ExitCompleted
	}
}

func connect(socketPath string, pid int) (*ipc.Conn, error) {
	nc, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, &blderr.PlatformError{Op: "worker-connect", Cause: err}
	}
	conn := ipc.NewConn(nc)
	if err := conn.WriteMessage(ipc.Message{WhoAmI: &ipc.WhoAmI{PID: uint32(pid)}}); err != nil {
		nc.Close()
		return nil, err
	}
	ack, err := conn.ReadMessage()
	if err != nil || ack.Ack == nil {
		nc.Close()
		return nil, &blderr.PlatformError{Op: "worker-handshake", Cause: fmt.Errorf("no ack from supervisor")}
	}
	return conn, nil
}

func buildPlatform(ctx context.Context, p *pipeline.Pipeline, runID string) (platform.Driver, error) {
	switch p.RunsOn.Kind {
	case pipeline.RunsOnMachine:
		return platform.NewMachine()
	case pipeline.RunsOnImage:
		return platform.NewContainer(ctx, platform.ContainerSpec{Image: p.RunsOn.Image}, "bld-"+runID)
	case pipeline.RunsOnDockerfile:
		return platform.NewContainer(ctx, platform.ContainerSpec{Dockerfile: p.RunsOn.Dockerfile}, "bld-"+runID)
	default:
		return nil, &blderr.Internal{Cause: fmt.Errorf("unknown runs_on kind %d", p.RunsOn.Kind)}
	}
}

// fastStop wraps execctx.Handle so a Stop control message is observed
// immediately rather than waiting out the store-poll cache window.
type fastStop struct {
	*execctx.Handle
	stopped atomic.Bool
}

func newFastStop(runID string, store runstore.RunStore) *fastStop {
	return &fastStop{Handle: execctx.New(runID, store)}
}

func (f *fastStop) CheckStop(ctx context.Context) error {
	if f.stopped.Load() {
		return &blderr.Cancelled{RunID: f.RunID()}
	}
	return f.Handle.CheckStop(ctx)
}

// stopWatch reads further control-channel messages in the background
// and flips fastStop.stopped the instant a Stop message arrives.
func stopWatch(conn *ipc.Conn, exec *fastStop) {
	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg.Stop != nil {
				exec.stopped.Store(true)
			}
		}
	}()
}
