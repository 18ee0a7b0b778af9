package store

import (
	"context"
	"sort"
	"sync"

	"eventdir/internal/model"
)

// Memory keeps events in a map. It is used in tests and when no
// database path is configured.
type Memory struct {
	mu     sync.RWMutex
	events map[string]*model.Event
}

func NewMemory() *Memory {
	return &Memory{events: make(map[string]*model.Event)}
}

func (m *Memory) Get(_ context.Context, id string) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ev.Clone(), nil
}

func (m *Memory) Put(_ context.Context, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[ev.ID] = ev.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.events, id)
	}
	return nil
}

// Query returns matching events ordered by id.
func (m *Memory) Query(_ context.Context, q Query) ([]*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Event, 0)
	for _, ev := range m.events {
		if q.Match(ev) {
			out = append(out, ev.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error { return nil }
