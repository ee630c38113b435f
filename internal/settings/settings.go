// Package settings manages versioned platform commission configuration.
//
// Settings are append-only: every update writes a new version and flips the
// current pointer, so historical fee calculations stay auditable.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/workpay/internal/idgen"
	"github.com/mbd888/workpay/internal/money"
)

var (
	ErrSettingsNotFound = errors.New("settings not found")
	ErrInvalidSettings  = errors.New("invalid settings")
	ErrTierNotFound     = errors.New("commission tier not found")
)

// CommissionTier is a named commission rate applying to a transaction
// amount range. Tiers are evaluated in order; the first active tier whose
// range contains the amount wins.
type CommissionTier struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RateBps   int64  `json:"rateBps"`
	MinAmount *int64 `json:"minAmount,omitempty"`
	MaxAmount *int64 `json:"maxAmount,omitempty"`
	Active    bool   `json:"active"`
}

// Contains reports whether amount falls inside the tier's range.
// A nil bound is unbounded on that side.
func (t *CommissionTier) Contains(amount int64) bool {
	if t.MinAmount != nil && amount < *t.MinAmount {
		return false
	}
	if t.MaxAmount != nil && amount > *t.MaxAmount {
		return false
	}
	return true
}

// Settings is one immutable version of the platform commission policy.
// All amounts are in minor currency units; all rates are basis points.
type Settings struct {
	ID                  string           `json:"id"`
	Version             int64            `json:"version"`
	CommissionRateBps   int64            `json:"commissionRateBps"`
	MinCommission       int64            `json:"minCommission"`
	MaxCommission       int64            `json:"maxCommission"` // 0 = no cap
	ProcessingFeeBps    int64            `json:"processingFeeBps"`
	TaxRateBps          int64            `json:"taxRateBps"`
	Currency            string           `json:"currency"`
	EscrowHoldDays      int              `json:"escrowHoldDays"`
	WithdrawalMinAmount int64            `json:"withdrawalMinAmount"`
	WithdrawalFee       int64            `json:"withdrawalFee"`
	Tiers               []CommissionTier `json:"tiers,omitempty"`
	UpdatedBy           string           `json:"updatedBy,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// Defaults returns the version-1 settings used when no admin has
// configured the platform yet.
func Defaults() *Settings {
	return &Settings{
		ID:                  idgen.WithPrefix(idgen.PrefixSettings),
		Version:             1,
		CommissionRateBps:   1000, // 10%
		MinCommission:       0,
		MaxCommission:       0,
		ProcessingFeeBps:    0,
		TaxRateBps:          0,
		Currency:            "USD",
		EscrowHoldDays:      7,
		WithdrawalMinAmount: 1000,
		WithdrawalFee:       0,
		CreatedAt:           time.Now(),
	}
}

// Store persists settings versions.
type Store interface {
	// Current returns the latest settings version.
	Current(ctx context.Context) (*Settings, error)
	// Append stores a new settings version and makes it current.
	Append(ctx context.Context, s *Settings) error
	// History returns settings versions, newest first.
	History(ctx context.Context, limit, offset int) ([]*Settings, error)
}

// UpdateRequest carries the fields an admin may change. Nil pointer
// fields keep the current value.
type UpdateRequest struct {
	CommissionRateBps   *int64           `json:"commissionRateBps"`
	MinCommission       *int64           `json:"minCommission"`
	MaxCommission       *int64           `json:"maxCommission"`
	ProcessingFeeBps    *int64           `json:"processingFeeBps"`
	TaxRateBps          *int64           `json:"taxRateBps"`
	Currency            *string          `json:"currency"`
	EscrowHoldDays      *int             `json:"escrowHoldDays"`
	WithdrawalMinAmount *int64           `json:"withdrawalMinAmount"`
	WithdrawalFee       *int64           `json:"withdrawalFee"`
	Tiers               []CommissionTier `json:"tiers"`
}

// Service implements settings business logic.
type Service struct {
	store Store

	// mu serializes Current's lazy bootstrap and Update's version bump.
	mu sync.Mutex
}

// NewService creates a settings service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Current returns the active settings, creating the defaults on first use.
func (s *Service) Current(ctx context.Context) (*Settings, error) {
	cur, err := s.store.Current(ctx)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, ErrSettingsNotFound) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under lock in case another goroutine bootstrapped first.
	if cur, err := s.store.Current(ctx); err == nil {
		return cur, nil
	}

	def := Defaults()
	if err := s.store.Append(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to bootstrap default settings: %w", err)
	}
	return def, nil
}

// Update validates the request, then appends a new settings version built
// from the current one with the requested changes applied.
func (s *Service) Update(ctx context.Context, req UpdateRequest, updatedBy string) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.store.Current(ctx)
	if errors.Is(err, ErrSettingsNotFound) {
		cur = Defaults()
		if err := s.store.Append(ctx, cur); err != nil {
			return nil, fmt.Errorf("failed to bootstrap default settings: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	next := *cur
	next.ID = idgen.WithPrefix(idgen.PrefixSettings)
	next.Version = cur.Version + 1
	next.UpdatedBy = updatedBy
	next.CreatedAt = time.Now()
	next.Tiers = cur.Tiers

	if req.CommissionRateBps != nil {
		next.CommissionRateBps = *req.CommissionRateBps
	}
	if req.MinCommission != nil {
		next.MinCommission = *req.MinCommission
	}
	if req.MaxCommission != nil {
		next.MaxCommission = *req.MaxCommission
	}
	if req.ProcessingFeeBps != nil {
		next.ProcessingFeeBps = *req.ProcessingFeeBps
	}
	if req.TaxRateBps != nil {
		next.TaxRateBps = *req.TaxRateBps
	}
	if req.Currency != nil {
		next.Currency = strings.ToUpper(*req.Currency)
	}
	if req.EscrowHoldDays != nil {
		next.EscrowHoldDays = *req.EscrowHoldDays
	}
	if req.WithdrawalMinAmount != nil {
		next.WithdrawalMinAmount = *req.WithdrawalMinAmount
	}
	if req.WithdrawalFee != nil {
		next.WithdrawalFee = *req.WithdrawalFee
	}
	if req.Tiers != nil {
		tiers := make([]CommissionTier, len(req.Tiers))
		copy(tiers, req.Tiers)
		for i := range tiers {
			if tiers[i].ID == "" {
				tiers[i].ID = idgen.WithPrefix(idgen.PrefixTier)
			}
		}
		next.Tiers = tiers
	}

	if err := validate(&next); err != nil {
		return nil, err
	}

	if err := s.store.Append(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to store settings version %d: %w", next.Version, err)
	}
	return &next, nil
}

// AddTier appends a commission tier, producing a new settings version.
func (s *Service) AddTier(ctx context.Context, tier CommissionTier, updatedBy string) (*Settings, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	tiers := make([]CommissionTier, 0, len(cur.Tiers)+1)
	tiers = append(tiers, cur.Tiers...)
	tiers = append(tiers, tier)
	return s.Update(ctx, UpdateRequest{Tiers: tiers}, updatedBy)
}

// RemoveTier drops the tier with the given ID, producing a new settings
// version. Past fee breakdowns are unaffected since they were computed
// from the version current at the time.
func (s *Service) RemoveTier(ctx context.Context, tierID, updatedBy string) (*Settings, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	tiers := make([]CommissionTier, 0, len(cur.Tiers))
	found := false
	for _, t := range cur.Tiers {
		if t.ID == tierID {
			found = true
			continue
		}
		tiers = append(tiers, t)
	}
	if !found {
		return nil, ErrTierNotFound
	}
	return s.Update(ctx, UpdateRequest{Tiers: tiers}, updatedBy)
}

// History returns past settings versions, newest first.
func (s *Service) History(ctx context.Context, limit, offset int) ([]*Settings, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.History(ctx, limit, offset)
}

func validate(s *Settings) error {
	if s.CommissionRateBps < 0 || s.CommissionRateBps > money.BpsDenominator {
		return fmt.Errorf("%w: commission rate must be between 0 and %d bps", ErrInvalidSettings, money.BpsDenominator)
	}
	if s.ProcessingFeeBps < 0 || s.ProcessingFeeBps > money.BpsDenominator {
		return fmt.Errorf("%w: processing fee must be between 0 and %d bps", ErrInvalidSettings, money.BpsDenominator)
	}
	if s.TaxRateBps < 0 || s.TaxRateBps > money.BpsDenominator {
		return fmt.Errorf("%w: tax rate must be between 0 and %d bps", ErrInvalidSettings, money.BpsDenominator)
	}
	if s.MinCommission < 0 || s.MaxCommission < 0 {
		return fmt.Errorf("%w: commission bounds cannot be negative", ErrInvalidSettings)
	}
	if s.MaxCommission > 0 && s.MinCommission > s.MaxCommission {
		return fmt.Errorf("%w: min commission exceeds max commission", ErrInvalidSettings)
	}
	if len(s.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO 4217 code", ErrInvalidSettings)
	}
	if s.EscrowHoldDays < 0 {
		return fmt.Errorf("%w: escrow hold days cannot be negative", ErrInvalidSettings)
	}
	if s.WithdrawalMinAmount < 0 || s.WithdrawalFee < 0 {
		return fmt.Errorf("%w: withdrawal amounts cannot be negative", ErrInvalidSettings)
	}
	for _, t := range s.Tiers {
		if t.Name == "" {
			return fmt.Errorf("%w: tier name is required", ErrInvalidSettings)
		}
		if t.RateBps < 0 || t.RateBps > money.BpsDenominator {
			return fmt.Errorf("%w: tier %q rate must be between 0 and %d bps", ErrInvalidSettings, t.Name, money.BpsDenominator)
		}
		if t.MinAmount != nil && *t.MinAmount < 0 {
			return fmt.Errorf("%w: tier %q min amount cannot be negative", ErrInvalidSettings, t.Name)
		}
		if t.MinAmount != nil && t.MaxAmount != nil && *t.MinAmount > *t.MaxAmount {
			return fmt.Errorf("%w: tier %q min amount exceeds max amount", ErrInvalidSettings, t.Name)
		}
	}
	return nil
}
