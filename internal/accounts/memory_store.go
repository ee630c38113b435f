package accounts

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	byEmail  map[string]string // email -> account ID
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(a.Email)
	if _, exists := m.byEmail[email]; exists {
		return ErrEmailExists
	}
	cp := *a
	m.accounts[a.ID] = &cp
	m.byEmail[email] = a.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; !ok {
		return ErrAccountNotFound
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, role Role, limit, offset int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Account
	skipped := 0
	for _, a := range m.accounts {
		if role != "" && a.Role != role {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *a
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
