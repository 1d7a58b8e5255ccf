package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bld-ci/bld/internal/blderr"
)

var (
	_ RunStore  = (*Memory)(nil)
	_ RunLister = (*Memory)(nil)
)

// Memory is an in-process run-state store for local runs and tests.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemory creates an empty in-memory run-state store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*Run)}
}

func (m *Memory) Insert(ctx context.Context, id, name, user string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	r := &Run{ID: id, Name: name, User: user, State: StateInitial, CreatedAt: now, UpdatedAt: now}
	m.runs[id] = r
	cp := *r
	return &cp, nil
}

func (m *Memory) transition(ctx context.Context, id string, to State, stamp func(*Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return &blderr.NotFound{Resource: "run", ID: id}
	}
	if to == r.State {
		return nil
	}
	if order[to] != order[r.State]+1 && !(to == StateFaulted && order[r.State] < order[StateFaulted]) {
		return &blderr.InvalidStateTransition{RunID: id, From: string(r.State), To: string(to)}
	}
	r.State = to
	r.UpdatedAt = time.Now()
	if stamp != nil {
		stamp(r)
	}
	return nil
}

func (m *Memory) MarkQueued(ctx context.Context, id string) error {
	return m.transition(ctx, id, StateQueued, nil)
}

func (m *Memory) MarkRunning(ctx context.Context, id string) error {
	return m.transition(ctx, id, StateRunning, func(r *Run) {
		now := time.Now()
		r.StartedAt = &now
	})
}

func (m *Memory) MarkFinished(ctx context.Context, id string) error {
	return m.transition(ctx, id, StateFinished, func(r *Run) {
		now := time.Now()
		r.EndedAt = &now
	})
}

func (m *Memory) MarkFaulted(ctx context.Context, id string) error {
	return m.transition(ctx, id, StateFaulted, func(r *Run) {
		now := time.Now()
		r.EndedAt = &now
	})
}

func (m *Memory) SetStopped(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return &blderr.NotFound{Resource: "run", ID: id}
	}
	r.Stopped = true
	r.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, &blderr.NotFound{Resource: "run", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) List(ctx context.Context, f Filter) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if f.State != nil && r.State != *f.State {
			continue
		}
		if f.Name != "" && r.Name != f.Name {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		switch {
		case ti == nil && tj == nil:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
