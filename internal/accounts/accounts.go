// Package accounts implements client and freelancer account management.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/workpay/internal/idgen"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailExists     = errors.New("email already registered")
	ErrInvalidRole     = errors.New("invalid account role")
	ErrDeactivated     = errors.New("account is deactivated")
)

// Role determines what an account may do on the platform.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
)

// ValidRole reports whether r is a registerable role. Admin accounts are
// provisioned out of band, never through the public registration endpoint.
func ValidRole(r Role) bool {
	return r == RoleClient || r == RoleFreelancer
}

// Account represents a platform participant.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty"`
	StripeAccountID  string    `json:"stripeAccountId,omitempty"` // Connected account for payouts
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store persists account data.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	List(ctx context.Context, role Role, limit, offset int) ([]*Account, error)
}

// KeyIssuer issues an API key for a newly registered account without
// coupling this package to the auth implementation.
type KeyIssuer interface {
	IssueKey(ctx context.Context, accountID string, role string, name string) (rawKey string, err error)
}

// RegisterRequest is the payload for account registration.
type RegisterRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name" binding:"required"`
	Role  Role   `json:"role" binding:"required"`
}

// UpdateRequest carries the mutable account fields.
type UpdateRequest struct {
	Name            *string `json:"name"`
	StripeAccountID *string `json:"stripeAccountId"`
}

// Service implements account business logic.
type Service struct {
	store  Store
	issuer KeyIssuer
}

// NewService creates an account service.
func NewService(store Store, issuer KeyIssuer) *Service {
	return &Service{store: store, issuer: issuer}
}

// Register creates a new account and issues its first API key.
// The raw key is returned once and never stored.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, string, error) {
	if !ValidRole(req.Role) {
		return nil, "", ErrInvalidRole
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, "", err
	}

	now := time.Now()
	a := &Account{
		ID:        idgen.WithPrefix(idgen.PrefixAccount),
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, "", fmt.Errorf("failed to create account: %w", err)
	}

	rawKey, err := s.issuer.IssueKey(ctx, a.ID, string(a.Role), "default")
	if err != nil {
		return nil, "", fmt.Errorf("account created but key issuance failed: %w", err)
	}

	return a, rawKey, nil
}

// Get returns an account by ID.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// Update applies the mutable fields to an account.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, ErrDeactivated
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		a.Name = strings.TrimSpace(*req.Name)
	}
	if req.StripeAccountID != nil {
		a.StripeAccountID = *req.StripeAccountID
	}
	a.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetStripeCustomerID records the Stripe customer created for a client.
func (s *Service) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	a.StripeCustomerID = customerID
	a.UpdatedAt = time.Now()
	return s.store.Update(ctx, a)
}

// Deactivate disables an account. Deactivated accounts keep their history
// but can no longer participate in new contracts or payments.
func (s *Service) Deactivate(ctx context.Context, id string) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Active = false
	a.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns accounts, optionally filtered by role.
func (s *Service) List(ctx context.Context, role Role, limit, offset int) ([]*Account, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, role, limit, offset)
}
