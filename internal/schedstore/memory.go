package schedstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It is the default driver and the fake used
// throughout the reconciler tests.
type Memory struct {
	mu   sync.Mutex
	rows map[string]memRow
}

type memRow struct {
	spec   Spec
	paused bool
}

func NewMemory() *Memory {
	return &Memory{rows: map[string]memRow{}}
}

func (m *Memory) Describe(_ context.Context, id string) (Remote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return Remote{ID: id}, nil
	}
	return Remote{ID: id, ConfigHash: row.spec.ConfigHash, Paused: row.paused, Exists: true}, nil
}

func (m *Memory) Create(_ context.Context, spec Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[spec.ID]; ok {
		return ErrConflict
	}
	m.rows[spec.ID] = memRow{spec: spec}
	return nil
}

func (m *Memory) Update(_ context.Context, spec Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[spec.ID]
	if !ok {
		return ErrNotFound
	}
	row.spec = spec
	m.rows[spec.ID] = row
	return nil
}

func (m *Memory) Pause(_ context.Context, id string) error {
	return m.setPaused(id, true)
}

func (m *Memory) Resume(_ context.Context, id string) error {
	return m.setPaused(id, false)
}

func (m *Memory) setPaused(id string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.paused = paused
	m.rows[id] = row
	return nil
}

func (m *Memory) Close() error { return nil }

// Spec returns the stored write payload for a schedule id. Test helper.
func (m *Memory) Spec(id string) (Spec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row.spec, ok
}
