// Package runstore is the durable Run-State Store: a table of runs
// with states {initial, queued, running, finished, faulted} and a
// stopped flag, exposing atomic single-row transition operations and
// filtered listing. Interfaces are segregated the way the teacher's
// backend package splits core storage from optional capabilities, so
// a minimal backend (memory) and a richer one (sqlite) can both
// satisfy RunStore without the richer one forcing capability methods
// onto the simpler one.
package runstore

import (
	"context"
	"time"
)

// State is a run's position in the monotonic lifecycle.
type State string

const (
	StateInitial State = "initial"
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateFinished State = "finished"
	StateFaulted State = "faulted"
)

// order gives each state's position for monotonic-transition checks:
// a run moves one position forward at a time, except that faulted is
// reachable from any non-terminal state.
var order = map[State]int{
	StateInitial:  0,
	StateQueued:   1,
	StateRunning:  2,
	StateFinished: 3,
	StateFaulted:  3,
}

// Run is one row of the run-state table.
type Run struct {
	ID       string
	Name     string
	User     string
	State    State
	Stopped  bool

	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows a List query.
type Filter struct {
	State *State
	Name  string
	Limit int
}

// RunStore is the minimal capability every backend must provide.
type RunStore interface {
	Insert(ctx context.Context, id, name, user string) (*Run, error)
	MarkQueued(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id string) error
	MarkFaulted(ctx context.Context, id string) error
	SetStopped(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Run, error)
}

// RunLister is an optional capability: backends that can efficiently
// filter/sort implement it; callers type-assert for it.
type RunLister interface {
	List(ctx context.Context, f Filter) ([]*Run, error)
}
