// Package supervisor implements the Supervisor: it owns the Worker
// Queue and a fixed-capacity pool of worker child processes, spawning
// one per dequeued run, matching each back to its control-channel
// connection by pid, and reaping exited children on a fixed interval.
package supervisor

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/bldlog"
	"github.com/bld-ci/bld/internal/ipc"
	"github.com/bld-ci/bld/internal/queue"
	"github.com/bld-ci/bld/internal/runstore"
)

// WorkerHandle tracks one spawned worker child from dispatch through
// reap.
type WorkerHandle struct {
	RunID string
	PID   int

	cmd  *exec.Cmd
	conn *ipc.Conn

	exited    chan struct{}
	completed bool
}

// ArgsFunc builds the "worker" subcommand's argv for one dispatched
// job, so cmd/bld controls the exact flag shape without this package
// needing to know it.
type ArgsFunc func(job queue.Pending) []string

// Supervisor bounds concurrency at Capacity worker processes, draining
// Queue as slots free up.
type Supervisor struct {
	Capacity   int
	SelfExe    string
	SocketPath string
	Args       ArgsFunc

	Queue *queue.Queue
	Store runstore.RunStore
	Log   *slog.Logger

	ReapInterval time.Duration

	mu     sync.Mutex
	active map[string]*WorkerHandle

	listener net.Listener
}

// New builds a Supervisor. Args is set to defaultArgs: a "worker
// --run-id <id> --pipeline <name>" invocation plus one --input or
// --env flag per entry of the job's Inputs and Env.
func New(capacity int, selfExe, socketPath string, q *queue.Queue, store runstore.RunStore, log *slog.Logger) *Supervisor {
	if log == nil {
		log = bldlog.New(bldlog.DefaultConfig())
	}
	return &Supervisor{
		Capacity:     capacity,
		SelfExe:      selfExe,
		SocketPath:   socketPath,
		Args:         defaultArgs,
		Queue:        q,
		Store:        store,
		Log:          log,
		ReapInterval: 250 * time.Millisecond,
		active:       make(map[string]*WorkerHandle),
	}
}

func defaultArgs(job queue.Pending) []string {
	args := []string{"worker", "--run-id", job.RunID, "--pipeline", job.PipelineName}
	for _, kv := range ipc.FormatKV(job.Inputs) {
		args = append(args, "--input", kv)
	}
	for _, kv := range ipc.FormatKV(job.Env) {
		args = append(args, "--env", kv)
	}
	return args
}

// Enqueue inserts a new run row (state advancing to queued) and pushes
// it onto the FIFO. It mirrors the Server→Supervisor Enqueue control
// message for in-process callers (the cron scheduler, tests).
func (s *Supervisor) Enqueue(ctx context.Context, job queue.Pending, owner string) error {
	if _, err := s.Store.Insert(ctx, job.RunID, job.PipelineName, owner); err != nil {
		return err
	}
	if err := s.Queue.Enqueue(job); err != nil {
		return err
	}
	return s.Store.MarkQueued(ctx, job.RunID)
}

// Stop marks a run stopped. A still-active run additionally receives
// a Stop control message; a still-queued run is pulled from the FIFO
// and marked faulted atomically with the stopped flag.
func (s *Supervisor) Stop(ctx context.Context, runID string) error {
	if err := s.Store.SetStopped(ctx, runID); err != nil {
		return err
	}

	s.mu.Lock()
	h, active := s.active[runID]
	s.mu.Unlock()

	if active {
		if h.conn != nil {
			return h.conn.WriteMessage(ipc.Message{Stop: &ipc.Stop{RunID: runID}})
		}
		return nil
	}

	if s.Queue.Remove(runID) {
		return s.Store.MarkFaulted(ctx, runID)
	}
	return nil
}

// Run starts the accept loop, the dispatch loop, and the reap loop.
// It blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return &blderr.PlatformError{Op: "supervisor-listen", Cause: err}
	}
	s.listener = l
	defer l.Close()

	go s.acceptLoop(ctx)
	go s.dispatchLoop(ctx)

	ticker := time.NewTicker(s.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.reap(ctx)
		}
	}
}

// dispatchLoop drains the FIFO whenever a slot is free.
func (s *Supervisor) dispatchLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		full := len(s.active) >= s.Capacity
		s.mu.Unlock()
		if full {
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		job, err := s.Queue.Dequeue(ctx)
		if err != nil {
			return
		}
		if err := s.spawn(job); err != nil {
			s.Log.Error("failed to spawn worker", bldlog.RunIDKey, job.RunID, "error", err)
			_ = s.Store.MarkFaulted(ctx, job.RunID)
		}
	}
}

func (s *Supervisor) spawn(job queue.Pending) error {
	args := s.Args(job)
	cmd := exec.Command(s.SelfExe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return &blderr.PlatformError{Op: "worker-spawn", Cause: err}
	}

	h := &WorkerHandle{
		RunID:  job.RunID,
		PID:    cmd.Process.Pid,
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	s.mu.Lock()
	s.active[job.RunID] = h
	s.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(h.exited)
	}()

	s.Log.Info("spawned worker", bldlog.RunIDKey, job.RunID, bldlog.WorkerIDKey, h.PID)
	return nil
}

// acceptLoop accepts worker control-channel connections and matches
// each to its WorkerHandle by the pid in its WhoAmI message.
func (s *Supervisor) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.Log.Error("accept failed", "error", err)
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Supervisor) handleConn(nc net.Conn) {
	conn := ipc.NewConn(nc)
	msg, err := conn.ReadMessage()
	if err != nil || msg.WhoAmI == nil {
		nc.Close()
		return
	}

	h := s.matchByPID(int(msg.WhoAmI.PID))
	if h == nil {
		nc.Close()
		return
	}

	s.mu.Lock()
	h.conn = conn
	s.mu.Unlock()

	if err := conn.WriteMessage(ipc.Message{Ack: &ipc.Ack{}}); err != nil {
		return
	}

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msg.Completed != nil {
			s.mu.Lock()
			h.completed = true
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) matchByPID(pid int) *WorkerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.active {
		if h.PID == pid {
			return h
		}
	}
	return nil
}

// reap removes exited workers from active, marking faulted any that
// exited without a Completed message (crash, nonzero exit, kill).
func (s *Supervisor) reap(ctx context.Context) {
	s.mu.Lock()
	var done []*WorkerHandle
	for runID, h := range s.active {
		select {
		case <-h.exited:
			done = append(done, h)
			delete(s.active, runID)
		default:
		}
	}
	s.mu.Unlock()

	for _, h := range done {
		if !h.completed {
			s.Log.Warn("worker exited without Completed", bldlog.RunIDKey, h.RunID)
			_ = s.Store.MarkFaulted(ctx, h.RunID)
		}
	}
}

// Len reports the number of currently active workers, for metrics.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
