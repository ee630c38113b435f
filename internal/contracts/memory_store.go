package contracts

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory contract store for demo/development mode.
type MemoryStore struct {
	contracts map[string]*Contract
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory contract store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[string]*Contract),
	}
}

func (m *MemoryStore) Create(ctx context.Context, c *Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.contracts[c.ID] = copyContract(c)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	return copyContract(c), nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contracts[c.ID]; !ok {
		return ErrContractNotFound
	}
	m.contracts[c.ID] = copyContract(c)
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, status Status, limit, offset int) ([]*Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Contract
	skipped := 0
	for _, c := range m.contracts {
		if !c.Participant(accountID) {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, copyContract(c))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// copyContract returns a deep copy to prevent races on the shared pointer.
// The milestone slice must be copied so callers cannot mutate stored state.
func copyContract(c *Contract) *Contract {
	cp := *c
	if c.Milestones != nil {
		cp.Milestones = make([]Milestone, len(c.Milestones))
		copy(cp.Milestones, c.Milestones)
	}
	return &cp
}
