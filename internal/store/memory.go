package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loykin/agentdeck/internal/agent"
)

// Memory is a Store backed by a map. The zero value is not usable; use
// NewMemory.
type Memory struct {
	mu   sync.Mutex
	recs map[string]agent.Record
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[string]agent.Record)}
}

func (m *Memory) EnsureSchema(context.Context) error { return nil }
func (m *Memory) Ping(context.Context) error         { return nil }
func (m *Memory) Close() error                       { return nil }

func (m *Memory) Create(_ context.Context, rec agent.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.ID]; ok {
		return AlreadyExists(rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	m.recs[rec.ID] = clone(rec)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (agent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return agent.Record{}, NotFound(id)
	}
	return clone(r), nil
}

func (m *Memory) List(context.Context) ([]agent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Record, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Update(_ context.Context, id string, fn Mutator) (agent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return agent.Record{}, NotFound(id)
	}
	next := clone(r)
	if err := fn(&next); err != nil {
		return agent.Record{}, err
	}
	next.ID = id
	m.recs[id] = clone(next)
	return next, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return NotFound(id)
	}
	delete(m.recs, id)
	return nil
}

func clone(r agent.Record) agent.Record {
	if r.Tags != nil {
		r.Tags = append([]string(nil), r.Tags...)
	}
	if r.StartTime != nil {
		t := *r.StartTime
		r.StartTime = &t
	}
	if r.LastSeen != nil {
		t := *r.LastSeen
		r.LastSeen = &t
	}
	return r
}
