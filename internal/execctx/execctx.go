// Package execctx is the Execution Context: a lightweight, run-scoped
// handle the interpreter and platform driver use to transition state
// and poll for cancellation, without holding "is-stopped" in memory
// for longer than one poll interval.
package execctx

import (
	"context"
	"sync"
	"time"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/runstore"
)

// Context is the interface the interpreter and platform driver depend
// on. Both Handle (server runs) and Empty (local runs) satisfy it.
type Context interface {
	RunID() string
	SetRunning() error
	SetFinished() error
	SetFaulted() error
	CheckStop(ctx context.Context) error
}

// cacheTTL bounds how long CheckStop trusts a cached "not stopped"
// result before re-reading the store, keeping the hot poll path cheap
// without trusting a stale "not stopped" for longer than that.
const cacheTTL = 100 * time.Millisecond

// Handle binds a run id to the run-state store for a server-managed
// run. CheckStop caches a negative result for cacheTTL so the
// interpreter's between-atom polling doesn't round-trip the store on
// every single step.
type Handle struct {
	id    string
	store runstore.RunStore

	mu          sync.Mutex
	lastCheck   time.Time
	lastStopped bool
}

// New builds a Handle for an existing run row.
func New(id string, store runstore.RunStore) *Handle {
	return &Handle{id: id, store: store}
}

func (h *Handle) RunID() string { return h.id }

func (h *Handle) SetRunning() error {
	return h.store.MarkRunning(context.Background(), h.id)
}

func (h *Handle) SetFinished() error {
	return h.store.MarkFinished(context.Background(), h.id)
}

func (h *Handle) SetFaulted() error {
	return h.store.MarkFaulted(context.Background(), h.id)
}

// CheckStop reports Cancelled if the run's stopped flag is set. A
// recent "not stopped" read is trusted for cacheTTL; any stopped
// observation is trusted immediately and forever (stopped is
// one-directional).
func (h *Handle) CheckStop(ctx context.Context) error {
	h.mu.Lock()
	if h.lastStopped {
		h.mu.Unlock()
		return &blderr.Cancelled{RunID: h.id}
	}
	if time.Since(h.lastCheck) < cacheTTL {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	r, err := h.store.Get(ctx, h.id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.lastCheck = time.Now()
	h.lastStopped = r.Stopped
	h.mu.Unlock()

	if r.Stopped {
		return &blderr.Cancelled{RunID: h.id}
	}
	return nil
}

// Empty is the no-op variant used for local, non-server runs: state
// transitions are discarded and the run can never be stopped.
type Empty struct {
	id string
}

// NewEmpty builds a no-op Context for local runs.
func NewEmpty(id string) *Empty {
	return &Empty{id: id}
}

func (e *Empty) RunID() string              { return e.id }
func (e *Empty) SetRunning() error          { return nil }
func (e *Empty) SetFinished() error         { return nil }
func (e *Empty) SetFaulted() error          { return nil }
func (e *Empty) CheckStop(context.Context) error { return nil }

var (
	_ Context = (*Handle)(nil)
	_ Context = (*Empty)(nil)
)
