package coordinator

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/ipc"
	"github.com/bld-ci/bld/internal/runstore"
)

// fakeSupervisor accepts exactly one worker connection, acks its
// WhoAmI, and records whether a Completed message arrives.
type fakeSupervisor struct {
	listener     net.Listener
	gotCompleted chan struct{}
}

func startFakeSupervisor(t *testing.T, sockPath string) *fakeSupervisor {
	t.Helper()
	l, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	f := &fakeSupervisor{listener: l, gotCompleted: make(chan struct{})}

	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		conn := ipc.NewConn(nc)
		msg, err := conn.ReadMessage()
		if err != nil || msg.WhoAmI == nil {
			return
		}
		_ = conn.WriteMessage(ipc.Message{Ack: &ipc.Ack{}})

		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg.Completed != nil {
				close(f.gotCompleted)
				return
			}
		}
	}()
	return f
}

func (f *fakeSupervisor) Close() { f.listener.Close() }

func TestRunSucceedsOnSimpleMachinePipeline(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "bld.sock")
	fs := startFakeSupervisor(t, sock)
	defer fs.Close()

	store := runstore.NewMemory()
	ctx := context.Background()
	_, err := store.Insert(ctx, "r1", "demo", "alice")
	require.NoError(t, err)
	require.NoError(t, store.MarkQueued(ctx, "r1"))

	cfg := Config{
		RunID:        "r1",
		PipelineName: "demo",
		PipelineYAML: []byte("version: 2\nruns_on: machine\nsteps:\n  - exec:\n      - echo hello\n"),
		LogsDir:      dir,
		SocketPath:   sock,
		Store:        store,
	}

	code := Run(ctx, cfg)
	assert.Equal(t, ExitCompleted, code)

	select {
	case <-fs.gotCompleted:
	case <-time.After(time.Second):
		t.Fatal("supervisor never observed Completed")
	}

	r, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, runstore.StateFinished, r.State)
}

func TestRunFailsBeforeStartOnMalformedPipeline(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "bld.sock")
	fs := startFakeSupervisor(t, sock)
	defer fs.Close()

	store := runstore.NewMemory()
	ctx := context.Background()
	_, err := store.Insert(ctx, "r1", "demo", "alice")
	require.NoError(t, err)
	require.NoError(t, store.MarkQueued(ctx, "r1"))

	cfg := Config{
		RunID:        "r1",
		PipelineYAML: []byte(""),
		LogsDir:      dir,
		SocketPath:   sock,
		Store:        store,
	}

	code := Run(ctx, cfg)
	assert.Equal(t, ExitFailedBeforeRun, code)
}
