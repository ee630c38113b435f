package transactions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	txns     map[string]*Transaction
	byIntent map[string]string // payment intent ID -> transaction ID
}

// NewMemoryStore creates an empty in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:     make(map[string]*Transaction),
		byIntent: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[t.ID] = copyTransaction(t)
	if t.PaymentIntentID != "" {
		s.byIntent[t.PaymentIntentID] = t.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(t), nil
}

func (s *MemoryStore) GetByPaymentIntent(ctx context.Context, intentID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(t), nil
}

// Update persists a transaction and increments its version. The caller's
// version must match the stored one or ErrStaleVersion is returned.
func (s *MemoryStore) Update(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.txns[t.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	if existing.Version != t.Version {
		return ErrStaleVersion
	}
	t.Version++
	s.txns[t.ID] = copyTransaction(t)
	if t.PaymentIntentID != "" {
		s.byIntent[t.PaymentIntentID] = t.ID
	}
	return nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string, status Status, before time.Time, beforeID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Transaction
	for _, t := range s.txns {
		if !t.Participant(accountID) {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if !before.IsZero() {
			if t.CreatedAt.After(before) {
				continue
			}
			// Ties on CreatedAt break on ID to keep the cursor stable.
			if t.CreatedAt.Equal(before) && beforeID != "" && t.ID >= beforeID {
				continue
			}
		}
		result = append(result, copyTransaction(t))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Transaction
	for _, t := range s.txns {
		if t.Status != StatusHeldInEscrow {
			continue
		}
		if t.EscrowReleaseAt == nil || t.EscrowReleaseAt.After(before) {
			continue
		}
		result = append(result, copyTransaction(t))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EscrowReleaseAt.Before(*result[j].EscrowReleaseAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyTransaction(t *Transaction) *Transaction {
	c := *t
	if t.EscrowReleaseAt != nil {
		v := *t.EscrowReleaseAt
		c.EscrowReleaseAt = &v
	}
	if t.ReleasedAt != nil {
		v := *t.ReleasedAt
		c.ReleasedAt = &v
	}
	if t.RefundedAt != nil {
		v := *t.RefundedAt
		c.RefundedAt = &v
	}
	if t.PaidOutAt != nil {
		v := *t.PaidOutAt
		c.PaidOutAt = &v
	}
	return &c
}
