package locks

import (
	"context"
	"sync"
)

// Manager provides per-key mutual exclusion for in-flight generation
// requests. TryAcquire never blocks: a held key reports false
// immediately so the caller can answer "busy, retry later" instead of
// queuing expensive work behind a retry storm.
type Manager interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type memoryManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryManager returns the process-local lock table. Sufficient
// for a single-instance deployment; swap in the Redis manager when
// running multiple replicas.
func NewMemoryManager() Manager {
	return &memoryManager{held: make(map[string]struct{})}
}

func (m *memoryManager) TryAcquire(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.held[key]; exists {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

func (m *memoryManager) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}
