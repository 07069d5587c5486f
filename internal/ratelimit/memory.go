package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps rate limit state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]State)}
}

// GetRateLimit returns a copy of the stored state, or nil when key is unknown.
func (m *MemoryStore) GetRateLimit(_ context.Context, key string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	return &val, nil
}

// UpdateRateLimit stores a copy of state for key.
func (m *MemoryStore) UpdateRateLimit(_ context.Context, key string, state *State) error {
	if state == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		m.state = make(map[string]State)
	}
	m.state[key] = *state
	return nil
}

// PruneRateLimits removes entries whose window ended at or before now.
func (m *MemoryStore) PruneRateLimits(_ context.Context, now time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, val := range m.state {
		if !now.Before(val.WindowStart.Add(window)) {
			delete(m.state, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of tracked callers.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state)
}
