package runstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteLifecycle(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(filepath.Join(dir, "bld.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Insert(ctx, "r1", "demo", "alice")
	require.NoError(t, err)

	require.NoError(t, s.MarkQueued(ctx, "r1"))
	require.NoError(t, s.MarkRunning(ctx, "r1"))

	err = s.MarkFaulted(ctx, "r1")
	require.NoError(t, err)

	r, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, StateFaulted, r.State)
	require.NotNil(t, r.StartedAt)
	require.NotNil(t, r.EndedAt)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bld.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s1.Insert(context.Background(), "r1", "demo", "alice")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	r, err := s2.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "r1", r.ID)
}
