package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "acct_abc123", "freelancer", "default")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(rawKey, "sk_") {
		t.Errorf("raw key should have sk_ prefix: %s", rawKey)
	}
	if key.Hash == rawKey {
		t.Error("stored hash must not equal the raw key")
	}
	if key.AccountID != "acct_abc123" || key.Role != "freelancer" {
		t.Errorf("key metadata wrong: %+v", key)
	}

	got, err := m.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("expected key %s, got %s", key.ID, got.ID)
	}

	// Bearer prefix is accepted.
	if _, err := m.ValidateKey(ctx, "Bearer "+rawKey); err != nil {
		t.Errorf("ValidateKey with Bearer prefix: %v", err)
	}
}

func TestValidateKeyRejectsBadInput(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	if _, err := m.ValidateKey(ctx, ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("empty key: expected ErrNoAPIKey, got %v", err)
	}
	if _, err := m.ValidateKey(ctx, "not_a_key"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("malformed key: expected ErrInvalidAPIKey, got %v", err)
	}
	if _, err := m.ValidateKey(ctx, "sk_deadbeef"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("unknown key: expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestRevokedKeyRejected(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "acct_abc123", "client", "default")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := m.RevokeKey(ctx, key.ID, "acct_abc123"); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if _, err := m.ValidateKey(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected revoked key to be rejected, got %v", err)
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "acct_abc123", "client", "default")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := m.ValidateKey(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected expired key to be rejected, got %v", err)
	}
}

func TestRevokeKeyWrongAccount(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, key, err := m.GenerateKey(ctx, "acct_owner", "client", "default")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := m.RevokeKey(ctx, key.ID, "acct_other"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
