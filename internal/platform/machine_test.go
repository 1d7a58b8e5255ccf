package platform

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/blderr"
)

type recordingSink struct {
	lines []string
}

func (s *recordingSink) WriteLine(line string) { s.lines = append(s.lines, line) }

type neverStop struct{}

func (neverStop) CheckStop(ctx context.Context) error { return nil }

type alwaysStop struct{}

func (alwaysStop) CheckStop(ctx context.Context) error { return &blderr.Cancelled{RunID: "r1"} }

func TestMachineShellStreamsOutputAndSucceeds(t *testing.T) {
	m, err := NewMachine()
	require.NoError(t, err)
	defer m.Dispose(context.Background(), false)

	sink := &recordingSink{}
	err = m.Shell(context.Background(), "", "echo one; echo two", neverStop{}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, sink.lines)
}

func TestMachineShellReturnsFailedOnNonzeroExit(t *testing.T) {
	m, err := NewMachine()
	require.NoError(t, err)
	defer m.Dispose(context.Background(), false)

	err = m.Shell(context.Background(), "", "exit 3", neverStop{}, nil)
	require.Error(t, err)
	var failed *blderr.Failed
	assert.ErrorAs(t, err, &failed)
}

func TestMachineShellCancelledKillsProcess(t *testing.T) {
	m, err := NewMachine()
	require.NoError(t, err)
	defer m.Dispose(context.Background(), false)

	err = m.Shell(context.Background(), "", "sleep 30", alwaysStop{}, nil)
	require.Error(t, err)
	var cancelled *blderr.Cancelled
	assert.ErrorAs(t, err, &cancelled)
}

func TestMachinePushGetRoundTrips(t *testing.T) {
	m, err := NewMachine()
	require.NoError(t, err)
	defer m.Dispose(context.Background(), false)

	hostDir := t.TempDir()
	src := filepath.Join(hostDir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, m.Push(context.Background(), src, "staged.txt"))

	dst := filepath.Join(hostDir, "out.txt")
	require.NoError(t, m.Get(context.Background(), "staged.txt", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestMachineDisposeSkipsRemovalInChild(t *testing.T) {
	m, err := NewMachine()
	require.NoError(t, err)

	require.NoError(t, m.Dispose(context.Background(), true))
	_, statErr := os.Stat(m.tempDir)
	require.NoError(t, statErr)

	require.NoError(t, m.Dispose(context.Background(), false))
	_, statErr = os.Stat(m.tempDir)
	assert.True(t, os.IsNotExist(statErr))
}
