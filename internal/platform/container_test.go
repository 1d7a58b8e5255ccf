package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerDisposeSkipsRemovalWhenKeptAlive(t *testing.T) {
	c := &Container{name: "bld-test-container"}
	c.KeepAlive()

	// The first Dispose after KeepAlive is a no-op and consumes the mark.
	err := c.Dispose(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, c.keptAlive)
}

func TestContainerDisposeSkipsRemovalInChild(t *testing.T) {
	c := &Container{name: "bld-test-container"}
	err := c.Dispose(context.Background(), true)
	require.NoError(t, err)
}

func TestContainerKeepAliveIsIdempotent(t *testing.T) {
	c := &Container{name: "x"}
	c.KeepAlive()
	c.KeepAlive()
	assert.True(t, c.keptAlive)
}
