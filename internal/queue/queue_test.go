package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/blderr"
)

func TestEnqueueDequeueFIFOOrder(t *testing.T) {
	q := New(0)
	require.NoError(t, q.Enqueue(Pending{RunID: "r1"}))
	require.NoError(t, q.Enqueue(Pending{RunID: "r2"}))

	ctx := context.Background()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", first.RunID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", second.RunID)
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(Pending{RunID: "r1"}))

	err := q.Enqueue(Pending{RunID: "r2"})
	require.Error(t, err)
	var full *blderr.QueueFull
	assert.ErrorAs(t, err, &full)
	assert.Equal(t, 1, full.Capacity)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(0)
	done := make(chan Pending, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		done <- job
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(Pending{RunID: "late"}))

	select {
	case job := <-done:
		assert.Equal(t, "late", job.RunID)
	case <-time.After(time.Second):
		t.Fatal("dequeue never unblocked")
	}
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestRemoveDropsQueuedJob(t *testing.T) {
	q := New(0)
	require.NoError(t, q.Enqueue(Pending{RunID: "r1"}))
	require.NoError(t, q.Enqueue(Pending{RunID: "r2"}))

	assert.True(t, q.Remove("r1"))
	assert.False(t, q.Remove("r1"))
	assert.Equal(t, 1, q.Len())

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r2", job.RunID)
}

func TestLenReflectsDepth(t *testing.T) {
	q := New(0)
	assert.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(Pending{RunID: "r1"}))
	assert.Equal(t, 1, q.Len())
}
