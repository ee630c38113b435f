package contracts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/workpay/internal/idgen"
	"github.com/mbd888/workpay/internal/metrics"
)

// EventPublisher delivers platform events so contracts doesn't import notify.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{})
}

// Service implements contract business logic.
type Service struct {
	store  Store
	events EventPublisher
	locks  sync.Map // per-contract ID locks to prevent race conditions
}

// NewService creates a new contract service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithEvents adds an event publisher for milestone notifications.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// contractLock returns a mutex for the given contract ID.
// This prevents concurrent state transitions (e.g. approve + cancel racing).
func (s *Service) contractLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create drafts a new contract. The milestone amounts must sum exactly to
// the contract total; the draft is not binding until both parties sign and
// the client activates it.
func (s *Service) Create(ctx context.Context, clientID string, req CreateRequest) (*Contract, error) {
	if clientID == req.FreelancerID {
		return nil, ErrUnauthorized
	}
	if len(req.Milestones) == 0 {
		return nil, ErrNoMilestones
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	c := &Contract{
		ID:           idgen.WithPrefix(idgen.PrefixContract),
		ProjectID:    req.ProjectID,
		ProposalID:   req.ProposalID,
		ClientID:     clientID,
		FreelancerID: req.FreelancerID,
		Title:        req.Title,
		Description:  req.Description,
		TotalAmount:  req.TotalAmount,
		Currency:     currency,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var sum int64
	for i, in := range req.Milestones {
		if in.Amount <= 0 {
			return nil, ErrMilestoneSum
		}
		sum += in.Amount
		c.Milestones = append(c.Milestones, newMilestone(c.ID, i, in, now))
	}
	if sum != req.TotalAmount {
		return nil, ErrMilestoneSum
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a contract with its milestones.
func (s *Service) Get(ctx context.Context, id string) (*Contract, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns contracts where the account is client or freelancer.
func (s *Service) ListByAccount(ctx context.Context, accountID string, status Status, limit, offset int) ([]*Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByAccount(ctx, accountID, status, limit, offset)
}

// Sign records the caller's signature on a draft contract.
func (s *Service) Sign(ctx context.Context, id, callerID string) (*Contract, error) {
	mu := s.contractLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Participant(callerID) {
		return nil, ErrUnauthorized
	}
	if c.Status != StatusDraft {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	switch callerID {
	case c.ClientID:
		c.ClientSignedAt = &now
	case c.FreelancerID:
		c.FreelancerSignedAt = &now
	}
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Activate moves a fully signed draft to active. Only the client activates.
func (s *Service) Activate(ctx context.Context, id, callerID string) (*Contract, error) {
	mu := s.contractLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != c.ClientID {
		return nil, ErrUnauthorized
	}
	if c.Status != StatusDraft {
		return nil, ErrInvalidStatus
	}
	if !c.FullySigned() {
		return nil, ErrNotSigned
	}
	if c.MilestoneSum() != c.TotalAmount {
		return nil, ErrMilestoneSum
	}

	c.Status = StatusActive
	c.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// StartMilestone moves a pending or rejected milestone to in_progress.
// Only the freelancer starts work, and only on an active contract.
func (s *Service) StartMilestone(ctx context.Context, contractID, milestoneID, callerID string) (*Contract, error) {
	mu := s.contractLock(contractID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if callerID != c.FreelancerID {
		return nil, ErrUnauthorized
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidStatus
	}

	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Status != MilestonePending && m.Status != MilestoneRejected {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	m.Status = MilestoneInProgress
	m.UpdatedAt = now
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.MilestoneTransitionsTotal.WithLabelValues(string(MilestoneInProgress)).Inc()
	return c, nil
}

// SubmitMilestone marks an in-progress milestone as submitted for review.
func (s *Service) SubmitMilestone(ctx context.Context, contractID, milestoneID, callerID string, req SubmitRequest) (*Contract, error) {
	mu := s.contractLock(contractID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if callerID != c.FreelancerID {
		return nil, ErrUnauthorized
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidStatus
	}

	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	switch m.Status {
	case MilestonePending, MilestoneInProgress, MilestoneRejected:
	default:
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	m.Status = MilestoneSubmitted
	m.DeliverableURL = req.DeliverableURL
	m.SubmittedNote = req.Note
	m.RejectionReason = ""
	m.SubmittedAt = &now
	m.UpdatedAt = now
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.MilestoneTransitionsTotal.WithLabelValues(string(MilestoneSubmitted)).Inc()

	if s.events != nil {
		s.events.Publish(ctx, "milestone.submitted", ginH{
			"contractId":  c.ID,
			"milestoneId": m.ID,
			"clientId":    c.ClientID,
			"amount":      m.Amount,
		})
	}
	return c, nil
}

// ApproveMilestone accepts submitted work. Only the client approves.
// Approval makes the milestone payable; it is marked paid once the escrow
// for it is released.
func (s *Service) ApproveMilestone(ctx context.Context, contractID, milestoneID, callerID string) (*Contract, error) {
	mu := s.contractLock(contractID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if callerID != c.ClientID {
		return nil, ErrUnauthorized
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidStatus
	}

	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Status != MilestoneSubmitted {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	m.Status = MilestoneApproved
	m.ApprovedAt = &now
	m.UpdatedAt = now
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.MilestoneTransitionsTotal.WithLabelValues(string(MilestoneApproved)).Inc()

	if s.events != nil {
		s.events.Publish(ctx, "milestone.approved", ginH{
			"contractId":   c.ID,
			"milestoneId":  m.ID,
			"freelancerId": c.FreelancerID,
			"amount":       m.Amount,
		})
	}
	return c, nil
}

// RejectMilestone sends submitted work back to the freelancer with a reason.
func (s *Service) RejectMilestone(ctx context.Context, contractID, milestoneID, callerID, reason string) (*Contract, error) {
	mu := s.contractLock(contractID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if callerID != c.ClientID {
		return nil, ErrUnauthorized
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidStatus
	}

	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Status != MilestoneSubmitted {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	m.Status = MilestoneRejected
	m.RejectionReason = reason
	m.UpdatedAt = now
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.MilestoneTransitionsTotal.WithLabelValues(string(MilestoneRejected)).Inc()
	return c, nil
}

// AttachTransaction links an escrow transaction to an approved milestone.
func (s *Service) AttachTransaction(ctx context.Context, contractID, milestoneID, transactionID string) error {
	mu := s.contractLock(contractID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return err
	}
	m := c.Milestone(milestoneID)
	if m == nil {
		return ErrMilestoneNotFound
	}
	if m.Status != MilestoneApproved {
		return ErrInvalidStatus
	}

	now := time.Now()
	m.TransactionID = transactionID
	m.UpdatedAt = now
	c.UpdatedAt = now
	return s.store.Update(ctx, c)
}

// MarkMilestonePaid records the escrow release for an approved milestone.
// When the last milestone is paid the contract completes.
func (s *Service) MarkMilestonePaid(ctx context.Context, contractID, milestoneID, transactionID string) (*Contract, error) {
	mu := s.contractLock(contractID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	m := c.Milestone(milestoneID)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Status != MilestoneApproved {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	m.Status = MilestonePaid
	m.TransactionID = transactionID
	m.PaidAt = &now
	m.UpdatedAt = now
	c.UpdatedAt = now

	if c.AllMilestonesPaid() {
		c.Status = StatusCompleted
		c.ResolvedAt = &now
	}

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.MilestoneTransitionsTotal.WithLabelValues(string(MilestonePaid)).Inc()
	return c, nil
}

// Pause suspends an active contract. Either party may pause.
func (s *Service) Pause(ctx context.Context, id, callerID string) (*Contract, error) {
	return s.transition(ctx, id, callerID, StatusActive, StatusPaused)
}

// Resume reactivates a paused contract. Either party may resume.
func (s *Service) Resume(ctx context.Context, id, callerID string) (*Contract, error) {
	return s.transition(ctx, id, callerID, StatusPaused, StatusActive)
}

func (s *Service) transition(ctx context.Context, id, callerID string, from, to Status) (*Contract, error) {
	mu := s.contractLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Participant(callerID) {
		return nil, ErrUnauthorized
	}
	if c.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if c.Status != from {
		return nil, ErrInvalidStatus
	}

	c.Status = to
	c.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Dispute freezes an active or paused contract pending admin resolution.
func (s *Service) Dispute(ctx context.Context, id, callerID, reason string) (*Contract, error) {
	mu := s.contractLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Participant(callerID) {
		return nil, ErrUnauthorized
	}
	if c.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if c.Status != StatusActive && c.Status != StatusPaused {
		return nil, ErrInvalidStatus
	}

	c.Status = StatusDisputed
	c.DisputeReason = reason
	c.DisputedBy = callerID
	c.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveDispute settles a disputed contract. Admin-only; resolution is
// either "resume" (back to active) or "cancel".
func (s *Service) ResolveDispute(ctx context.Context, id, resolution string) (*Contract, error) {
	mu := s.contractLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	switch resolution {
	case "resume":
		c.Status = StatusActive
		c.DisputeReason = ""
		c.DisputedBy = ""
	case "cancel":
		c.Status = StatusCancelled
		c.CancelledBy = "admin"
		c.CancelReason = "dispute resolved: cancelled"
		c.ResolvedAt = &now
	default:
		return nil, ErrInvalidStatus
	}
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel voids a contract. Drafts cancel freely; active or paused contracts
// only cancel while no milestone has been submitted, approved, or paid.
func (s *Service) Cancel(ctx context.Context, id, callerID, reason string) (*Contract, error) {
	mu := s.contractLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Participant(callerID) {
		return nil, ErrUnauthorized
	}
	if c.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	switch c.Status {
	case StatusDraft:
		// Always cancellable
	case StatusActive, StatusPaused:
		for i := range c.Milestones {
			switch c.Milestones[i].Status {
			case MilestoneSubmitted, MilestoneApproved, MilestonePaid:
				return nil, ErrInvalidStatus
			}
		}
	default:
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	c.Status = StatusCancelled
	c.CancelledBy = callerID
	c.CancelReason = reason
	c.ResolvedAt = &now
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ginH mirrors gin.H without importing gin into the service layer.
type ginH = map[string]interface{}
