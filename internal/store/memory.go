package store

import (
	"context"
	"sync"

	"DCAKeeper/internal/model"
)

const maxMemoryEvents = 10000

// Memory is a Store that keeps everything in process. Used when no storage is configured.
type Memory struct {
	mu     sync.Mutex
	snap   *Snapshot
	events []model.Event
}

func NewMemory() *Memory { return &Memory{snap: NewSnapshot()} }

func (m *Memory) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone(), nil
}

func (m *Memory) Commit(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Apply(b)
	m.events = append(m.events, b.Event)
	if len(m.events) > maxMemoryEvents {
		m.events = m.events[len(m.events)-maxMemoryEvents:]
	}
	return nil
}

func (m *Memory) SaveTick(_ context.Context, tick uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Tick = max(m.snap.Tick, tick)
	return nil
}

func (m *Memory) History(_ context.Context, owner string, limit int) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterHistory(m.events, owner, limit), nil
}

func (m *Memory) Close() error { return nil }
