package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/queue"
	"github.com/bld-ci/bld/internal/runstore"
)

type fakeStore struct {
	jobs []runstore.CronJob
}

func (f *fakeStore) ListCronJobs(ctx context.Context) ([]runstore.CronJob, error) {
	return f.jobs, nil
}

type fakeEnqueuer struct {
	fired chan queue.Pending
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.Pending, owner string) error {
	f.fired <- job
	return nil
}

func TestSchedulerFiresScheduledJob(t *testing.T) {
	store := &fakeStore{jobs: []runstore.CronJob{
		{ID: "c1", PipelineName: "demo", Schedule: "@every 10ms"},
	}}
	enq := &fakeEnqueuer{fired: make(chan queue.Pending, 4)}

	s := New(store, enq, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case job := <-enq.fired:
		assert.Equal(t, "demo", job.PipelineName)
	case <-time.After(time.Second):
		t.Fatal("cron job never fired")
	}
}

func TestReloadSkipsInvalidScheduleButKeepsOthers(t *testing.T) {
	store := &fakeStore{jobs: []runstore.CronJob{
		{ID: "bad", PipelineName: "x", Schedule: "not-a-schedule"},
		{ID: "good", PipelineName: "demo", Schedule: "@every 10ms"},
	}}
	enq := &fakeEnqueuer{fired: make(chan queue.Pending, 4)}

	s := New(store, enq, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case job := <-enq.fired:
		assert.Equal(t, "demo", job.PipelineName)
	case <-time.After(time.Second):
		t.Fatal("valid cron job never fired")
	}
}
