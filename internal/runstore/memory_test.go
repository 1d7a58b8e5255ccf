package runstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/blderr"
)

func TestMemoryMonotonicTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Insert(ctx, "r1", "p", "alice")
	require.NoError(t, err)

	require.NoError(t, m.MarkQueued(ctx, "r1"))
	require.NoError(t, m.MarkRunning(ctx, "r1"))
	require.NoError(t, m.MarkFinished(ctx, "r1"))

	r, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, r.State)
	assert.NotNil(t, r.StartedAt)
	assert.NotNil(t, r.EndedAt)
}

func TestMemoryRejectsSkippedTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Insert(ctx, "r1", "p", "alice")

	err := m.MarkRunning(ctx, "r1")
	require.Error(t, err)
	var ist *blderr.InvalidStateTransition
	assert.ErrorAs(t, err, &ist)
}

func TestMemoryRejectsBackTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Insert(ctx, "r1", "p", "alice")
	require.NoError(t, m.MarkQueued(ctx, "r1"))
	require.NoError(t, m.MarkRunning(ctx, "r1"))
	require.NoError(t, m.MarkFinished(ctx, "r1"))

	err := m.MarkRunning(ctx, "r1")
	require.Error(t, err)
}

func TestMemorySetStoppedIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Insert(ctx, "r1", "p", "alice")

	require.NoError(t, m.SetStopped(ctx, "r1"))
	require.NoError(t, m.SetStopped(ctx, "r1"))

	r, _ := m.Get(ctx, "r1")
	assert.True(t, r.Stopped)
}

func TestMemoryGetNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "missing")
	require.Error(t, err)
	var nf *blderr.NotFound
	assert.True(t, errors.As(err, &nf))
}

func TestMemoryListFiltersByState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"r1", "r2", "r3"} {
		_, _ = m.Insert(ctx, id, "pipe", "bob")
		require.NoError(t, m.MarkQueued(ctx, id))
		require.NoError(t, m.MarkRunning(ctx, id))
	}
	require.NoError(t, m.MarkFinished(ctx, "r2"))

	finished := StateFinished
	rs, err := m.List(ctx, Filter{State: &finished})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "r2", rs[0].ID)
}
