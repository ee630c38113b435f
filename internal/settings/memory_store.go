package settings

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory settings store for demo/development mode.
type MemoryStore struct {
	versions []*Settings // append order, oldest first
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Current(ctx context.Context) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.versions) == 0 {
		return nil, ErrSettingsNotFound
	}
	return copySettings(m.versions[len(m.versions)-1]), nil
}

func (m *MemoryStore) Append(ctx context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions = append(m.versions, copySettings(s))
	return nil
}

func (m *MemoryStore) History(ctx context.Context, limit, offset int) ([]*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Settings
	for i := len(m.versions) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		result = append(result, copySettings(m.versions[i]))
	}
	return result, nil
}

// copySettings returns a deep copy so callers cannot mutate stored versions.
func copySettings(s *Settings) *Settings {
	cp := *s
	if s.Tiers != nil {
		cp.Tiers = make([]CommissionTier, len(s.Tiers))
		copy(cp.Tiers, s.Tiers)
	}
	return &cp
}
