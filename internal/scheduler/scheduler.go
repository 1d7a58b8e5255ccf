// Package scheduler loads the cron_jobs table on Start and on each
// Reload, and pushes a Pending run onto the Worker Queue each time a
// schedule fires.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bld-ci/bld/internal/queue"
	"github.com/bld-ci/bld/internal/runstore"
)

// Store is the subset of runstore.SQLite the scheduler needs; the
// memory backend carries no cron tables so schedulers only ever run
// against a SQLite-backed server.
type Store interface {
	ListCronJobs(ctx context.Context) ([]runstore.CronJob, error)
}

// Enqueuer is implemented by internal/supervisor.Supervisor.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Pending, owner string) error
}

// Scheduler drives a robfig/cron.Cron instance whose entries are
// rebuilt from the store's cron_jobs table each time Reload is
// called, so schedule changes don't require a restart.
type Scheduler struct {
	store    Store
	enqueuer Enqueuer
	log      *slog.Logger

	cron    *cron.Cron
	running bool
}

// New builds a Scheduler. The underlying cron.Cron runs with
// second-less standard 5-field expressions, matching how pipeline YAML
// author-facing `cron:` fields are documented.
func New(store Store, enqueuer Enqueuer, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: store, enqueuer: enqueuer, log: log, cron: cron.New()}
}

// Start loads the current cron_jobs table into a fresh cron.Cron and
// begins firing schedules in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.running = true
	return s.Reload(ctx)
}

// Stop halts the cron runner, waiting for any in-flight entry
// callbacks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reload discards the current entry set and rebuilds it from the
// store, so edits to cron_jobs take effect without a restart.
func (s *Scheduler) Reload(ctx context.Context) error {
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading cron jobs: %w", err)
	}

	next := cron.New()
	for _, job := range jobs {
		job := job
		if _, err := next.AddFunc(job.Schedule, func() { s.fire(job) }); err != nil {
			s.log.Error("skipping cron job with invalid schedule", "cron_job_id", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
	}

	old := s.cron
	s.cron = next
	if old != nil {
		old.Stop()
	}
	if s.running {
		next.Start()
	}
	return nil
}

func (s *Scheduler) fire(job runstore.CronJob) {
	runID := uuid.NewString()
	pending := queue.Pending{
		RunID:        runID,
		PipelineName: job.PipelineName,
		Inputs:       job.Vars,
		Env:          job.Env,
	}
	if err := s.enqueuer.Enqueue(context.Background(), pending, "cron"); err != nil {
		s.log.Error("cron enqueue failed", "cron_job_id", job.ID, "pipeline", job.PipelineName, "error", err)
		return
	}
	s.log.Info("cron fired", "cron_job_id", job.ID, "pipeline", job.PipelineName, "run_id", runID)
}
