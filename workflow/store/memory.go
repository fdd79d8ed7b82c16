package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store.
//
// Designed for tests, development, and single-process runs where
// durability across restarts is not required. Thread-safe; blobs are copied
// on write and read so callers cannot alias internal state.
type MemStore struct {
	mu   sync.RWMutex
	runs map[string]map[int][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string]map[int][]byte)}
}

// SaveCheckpoint stores a copy of blob under (runID, superstep).
func (m *MemStore) SaveCheckpoint(_ context.Context, runID string, superstep int, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		run = make(map[int][]byte)
		m.runs[runID] = run
	}
	run[superstep] = append([]byte(nil), blob...)
	return nil
}

// LoadCheckpoint returns a copy of the blob for (runID, superstep).
func (m *MemStore) LoadCheckpoint(_ context.Context, runID string, superstep int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.runs[runID][superstep]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// LoadLatest returns the highest-superstep checkpoint for runID.
func (m *MemStore) LoadLatest(_ context.Context, runID string) ([]byte, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok || len(run) == 0 {
		return nil, 0, ErrNotFound
	}

	latest := -1
	for step := range run {
		if step > latest {
			latest = step
		}
	}
	return append([]byte(nil), run[latest]...), latest, nil
}

// ListCheckpoints returns the stored superstep indices for runID, ascending.
func (m *MemStore) ListCheckpoints(_ context.Context, runID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run := m.runs[runID]
	steps := make([]int, 0, len(run))
	for step := range run {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps, nil
}

// DeleteRun removes all checkpoints for runID.
func (m *MemStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
	return nil
}
