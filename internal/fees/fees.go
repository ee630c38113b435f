// Package fees computes the platform commission breakdown for a payment.
//
// All calculations are pure integer arithmetic on minor currency units so
// that the same inputs always yield the same breakdown, and the parts of a
// breakdown always sum exactly to the original amount.
package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/workpay/internal/money"
	"github.com/mbd888/workpay/internal/settings"
)

var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrFeesExceedAmount = errors.New("fees exceed payment amount")
)

// Breakdown is the fee decomposition of a payment amount. All values are
// minor currency units. Commission + ProcessingFee + Tax + FreelancerAmount
// always equals Amount.
type Breakdown struct {
	Amount           int64  `json:"amount"`
	Commission       int64  `json:"commission"`
	ProcessingFee    int64  `json:"processingFee"`
	Tax              int64  `json:"tax"`
	FreelancerAmount int64  `json:"freelancerAmount"`
	Currency         string `json:"currency"`
	RateBps          int64  `json:"rateBps"`
	TierName         string `json:"tierName,omitempty"`
	SettingsVersion  int64  `json:"settingsVersion"`
}

// SettingsProvider supplies the current platform settings.
type SettingsProvider interface {
	Current(ctx context.Context) (*settings.Settings, error)
}

// Service computes fee breakdowns against the live platform settings.
type Service struct {
	provider SettingsProvider
}

// NewService creates a fee calculation service.
func NewService(provider SettingsProvider) *Service {
	return &Service{provider: provider}
}

// Calculate computes the breakdown for amount using the current settings.
func (s *Service) Calculate(ctx context.Context, amount int64) (*Breakdown, error) {
	cfg, err := s.provider.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return CalculateWith(amount, cfg)
}

// ResolveRate returns the commission rate for amount: the first active tier
// whose range contains the amount wins, falling back to the flat rate.
func ResolveRate(amount int64, cfg *settings.Settings) (rateBps int64, tierName string) {
	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]
		if t.Active && t.Contains(amount) {
			return t.RateBps, t.Name
		}
	}
	return cfg.CommissionRateBps, ""
}

// CalculateWith computes the breakdown for amount against a specific
// settings version. It is a pure function with no I/O.
func CalculateWith(amount int64, cfg *settings.Settings) (*Breakdown, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	rateBps, tierName := ResolveRate(amount, cfg)

	commission := money.ApplyBps(amount, rateBps)
	commission = money.Clamp(commission, cfg.MinCommission, cfg.MaxCommission)
	processingFee := money.ApplyBps(amount, cfg.ProcessingFeeBps)
	tax := money.ApplyBps(amount, cfg.TaxRateBps)

	freelancer := amount - commission - processingFee - tax
	if freelancer < 0 {
		return nil, fmt.Errorf("%w: fees %d on amount %d",
			ErrFeesExceedAmount, commission+processingFee+tax, amount)
	}

	return &Breakdown{
		Amount:           amount,
		Commission:       commission,
		ProcessingFee:    processingFee,
		Tax:              tax,
		FreelancerAmount: freelancer,
		Currency:         cfg.Currency,
		RateBps:          rateBps,
		TierName:         tierName,
		SettingsVersion:  cfg.Version,
	}, nil
}
