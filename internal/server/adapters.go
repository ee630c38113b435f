package server

import (
	"context"
	"errors"

	"github.com/mbd888/workpay/internal/accounts"
	"github.com/mbd888/workpay/internal/contracts"
	"github.com/mbd888/workpay/internal/idgen"
	"github.com/mbd888/workpay/internal/marketplace"
	"github.com/mbd888/workpay/internal/notify"
	"github.com/mbd888/workpay/internal/realtime"
	"github.com/mbd888/workpay/internal/settings"
	"github.com/mbd888/workpay/internal/transactions"
)

// -----------------------------------------------------------------------------
// Event fanout
// -----------------------------------------------------------------------------

// eventFanout delivers platform events to webhook subscribers and to
// connected WebSocket clients.
type eventFanout struct {
	dispatcher *notify.Dispatcher
	hub        *realtime.Hub
}

func (f *eventFanout) Publish(ctx context.Context, eventType string, payload interface{}) {
	f.dispatcher.Publish(ctx, eventType, payload)

	data, ok := payload.(map[string]interface{})
	if !ok {
		return
	}
	switch notify.EventType(eventType) {
	case notify.EventPaymentReceived, notify.EventPaymentRefunded:
		f.hub.BroadcastTransaction(data)
	case notify.EventEscrowReleased:
		f.hub.BroadcastEscrow(data)
	case notify.EventMilestoneSubmitted, notify.EventMilestoneApproved:
		f.hub.BroadcastMilestone(data)
	}
}

// -----------------------------------------------------------------------------
// Transaction service adapters
// -----------------------------------------------------------------------------

// contractMilestoneAdapter adapts contracts.Service to transactions.ContractService
type contractMilestoneAdapter struct {
	s *contracts.Service
}

func (a *contractMilestoneAdapter) ApprovedMilestone(ctx context.Context, contractID, milestoneID string) (string, string, int64, string, error) {
	ct, err := a.s.Get(ctx, contractID)
	if err != nil {
		if errors.Is(err, contracts.ErrContractNotFound) {
			err = transactions.ErrContractNotFound
		}
		return "", "", 0, "", err
	}
	ms := ct.Milestone(milestoneID)
	if ms == nil {
		return "", "", 0, "", transactions.ErrMilestoneNotFound
	}
	if ms.Status != contracts.MilestoneApproved {
		return "", "", 0, "", transactions.ErrMilestoneNotPayable
	}
	return ct.ClientID, ct.FreelancerID, ms.Amount, ct.Currency, nil
}

func (a *contractMilestoneAdapter) ActiveContract(ctx context.Context, contractID string) (string, string, string, error) {
	ct, err := a.s.Get(ctx, contractID)
	if err != nil {
		if errors.Is(err, contracts.ErrContractNotFound) {
			err = transactions.ErrContractNotFound
		}
		return "", "", "", err
	}
	if ct.Status != contracts.StatusActive {
		return "", "", "", transactions.ErrContractNotActive
	}
	return ct.ClientID, ct.FreelancerID, ct.Currency, nil
}

func (a *contractMilestoneAdapter) AttachTransaction(ctx context.Context, contractID, milestoneID, transactionID string) error {
	return a.s.AttachTransaction(ctx, contractID, milestoneID, transactionID)
}

func (a *contractMilestoneAdapter) MarkMilestonePaid(ctx context.Context, contractID, milestoneID, transactionID string) error {
	_, err := a.s.MarkMilestonePaid(ctx, contractID, milestoneID, transactionID)
	return err
}

// accountDirectoryAdapter adapts accounts.Service to transactions.AccountDirectory
type accountDirectoryAdapter struct {
	s *accounts.Service
}

func (a *accountDirectoryAdapter) PayoutDestination(ctx context.Context, accountID string) (string, error) {
	acct, err := a.s.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	return acct.StripeAccountID, nil
}

func (a *accountDirectoryAdapter) CustomerID(ctx context.Context, accountID string) (string, error) {
	acct, err := a.s.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	return acct.StripeCustomerID, nil
}

// settingsHoldPolicy reads the escrow hold duration from live platform
// settings, falling back to the configured default.
type settingsHoldPolicy struct {
	s        *settings.Service
	fallback int
}

func (p *settingsHoldPolicy) EscrowHoldDays(ctx context.Context) int {
	cfg, err := p.s.Current(ctx)
	if err != nil || cfg.EscrowHoldDays <= 0 {
		return p.fallback
	}
	return cfg.EscrowHoldDays
}

// -----------------------------------------------------------------------------
// Marketplace adapter
// -----------------------------------------------------------------------------

// draftContractAdapter adapts contracts.Service to marketplace.ContractCreator
type draftContractAdapter struct {
	s *contracts.Service
}

func (a *draftContractAdapter) CreateDraft(ctx context.Context, req marketplace.DraftContractRequest) (string, error) {
	milestones := make([]contracts.MilestoneInput, len(req.Milestones))
	for i, m := range req.Milestones {
		milestones[i] = contracts.MilestoneInput{
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
		}
	}

	ct, err := a.s.Create(ctx, req.ClientID, contracts.CreateRequest{
		FreelancerID: req.FreelancerID,
		ProjectID:    req.ProjectID,
		ProposalID:   req.ProposalID,
		Title:        req.Title,
		TotalAmount:  req.TotalAmount,
		Currency:     req.Currency,
		Milestones:   milestones,
	})
	if err != nil {
		return "", err
	}
	return ct.ID, nil
}

// -----------------------------------------------------------------------------
// Simulated gateway (development without Stripe credentials)
// -----------------------------------------------------------------------------

// simGateway fabricates gateway references so the full escrow lifecycle
// can be exercised locally. Every call succeeds.
type simGateway struct{}

func newSimGateway() *simGateway {
	return &simGateway{}
}

func (g *simGateway) CreateHold(ctx context.Context, amount int64, currency, customerID, idempotencyKey string) (string, string, error) {
	id := "pi_sim_" + idgen.Hex(12)
	return id, id + "_secret", nil
}

func (g *simGateway) Capture(ctx context.Context, intentID string) error {
	return nil
}

func (g *simGateway) CancelHold(ctx context.Context, intentID string) error {
	return nil
}

func (g *simGateway) Transfer(ctx context.Context, destination string, amount int64, currency, idempotencyKey string) (string, error) {
	return "tr_sim_" + idgen.Hex(12), nil
}

func (g *simGateway) Refund(ctx context.Context, intentID, idempotencyKey string) (string, error) {
	return "re_sim_" + idgen.Hex(12), nil
}
