// Package contracts implements milestone-based work agreements between
// clients and freelancers.
//
// Flow:
//  1. Client drafts a contract with milestones → status: draft
//  2. Both parties sign → client activates → status: active
//  3. Freelancer starts a milestone → in_progress → submits work → submitted
//  4. Client approves → approved → payment releases escrow → paid
//     Client rejects → rejected → freelancer revises and restarts
//  5. All milestones paid → contract auto-completes
//  6. Either party may raise a dispute on an active contract
package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/workpay/internal/idgen"
)

var (
	ErrContractNotFound  = errors.New("contract not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrInvalidStatus     = errors.New("invalid status for this operation")
	ErrUnauthorized      = errors.New("not authorized for this contract operation")
	ErrAlreadyResolved   = errors.New("contract already resolved")
	ErrMilestoneSum      = errors.New("milestone amounts must sum to the contract total")
	ErrNotSigned         = errors.New("contract requires both signatures")
	ErrNoMilestones      = errors.New("contract requires at least one milestone")
)

// Status represents the state of a contract.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusDisputed  Status = "disputed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// MilestoneStatus represents the state of a single milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneSubmitted  MilestoneStatus = "submitted"
	MilestoneApproved   MilestoneStatus = "approved"
	MilestoneRejected   MilestoneStatus = "rejected"
	MilestonePaid       MilestoneStatus = "paid"
)

// Milestone is a unit of deliverable work with a fixed payout.
// Amount is in minor currency units.
type Milestone struct {
	ID              string          `json:"id"`
	ContractID      string          `json:"contractId"`
	Position        int             `json:"position"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Amount          int64           `json:"amount"`
	Status          MilestoneStatus `json:"status"`
	DeliverableURL  string          `json:"deliverableUrl,omitempty"`
	SubmittedNote   string          `json:"submittedNote,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	TransactionID   string          `json:"transactionId,omitempty"` // Escrow payment for this milestone
	SubmittedAt     *time.Time      `json:"submittedAt,omitempty"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Contract is a milestone-based agreement between a client and a freelancer.
// TotalAmount is in minor currency units and always equals the sum of the
// milestone amounts.
type Contract struct {
	ID                 string      `json:"id"`
	ProjectID          string      `json:"projectId,omitempty"`  // Marketplace project this came from
	ProposalID         string      `json:"proposalId,omitempty"` // Accepted proposal this came from
	ClientID           string      `json:"clientId"`
	FreelancerID       string      `json:"freelancerId"`
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	TotalAmount        int64       `json:"totalAmount"`
	Currency           string      `json:"currency"`
	Status             Status      `json:"status"`
	Milestones         []Milestone `json:"milestones"`
	ClientSignedAt     *time.Time  `json:"clientSignedAt,omitempty"`
	FreelancerSignedAt *time.Time  `json:"freelancerSignedAt,omitempty"`
	DisputeReason      string      `json:"disputeReason,omitempty"`
	DisputedBy         string      `json:"disputedBy,omitempty"`
	CancelledBy        string      `json:"cancelledBy,omitempty"`
	CancelReason       string      `json:"cancelReason,omitempty"`
	ResolvedAt         *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// IsTerminal returns true if the contract is in a final state.
func (c *Contract) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// FullySigned reports whether both parties have signed.
func (c *Contract) FullySigned() bool {
	return c.ClientSignedAt != nil && c.FreelancerSignedAt != nil
}

// Milestone returns the milestone with the given ID.
func (c *Contract) Milestone(id string) *Milestone {
	for i := range c.Milestones {
		if c.Milestones[i].ID == id {
			return &c.Milestones[i]
		}
	}
	return nil
}

// MilestoneSum returns the sum of all milestone amounts.
func (c *Contract) MilestoneSum() int64 {
	var sum int64
	for i := range c.Milestones {
		sum += c.Milestones[i].Amount
	}
	return sum
}

// AllMilestonesPaid reports whether every milestone has been paid out.
func (c *Contract) AllMilestonesPaid() bool {
	if len(c.Milestones) == 0 {
		return false
	}
	for i := range c.Milestones {
		if c.Milestones[i].Status != MilestonePaid {
			return false
		}
	}
	return true
}

// Participant reports whether accountID is the client or the freelancer.
func (c *Contract) Participant(accountID string) bool {
	return accountID == c.ClientID || accountID == c.FreelancerID
}

// Store persists contract data. Update persists the contract together
// with its milestones.
type Store interface {
	Create(ctx context.Context, contract *Contract) error
	Get(ctx context.Context, id string) (*Contract, error)
	Update(ctx context.Context, contract *Contract) error
	ListByAccount(ctx context.Context, accountID string, status Status, limit, offset int) ([]*Contract, error)
}

// MilestoneInput describes one milestone in a contract draft.
type MilestoneInput struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Amount      int64  `json:"amount" binding:"required"`
}

// CreateRequest contains the parameters for drafting a contract.
type CreateRequest struct {
	FreelancerID string           `json:"freelancerId" binding:"required"`
	ProjectID    string           `json:"projectId"`
	ProposalID   string           `json:"proposalId"`
	Title        string           `json:"title" binding:"required"`
	Description  string           `json:"description"`
	TotalAmount  int64            `json:"totalAmount" binding:"required"`
	Currency     string           `json:"currency"`
	Milestones   []MilestoneInput `json:"milestones" binding:"required"`
}

// SubmitRequest contains the freelancer's submission for a milestone.
type SubmitRequest struct {
	DeliverableURL string `json:"deliverableUrl"`
	Note           string `json:"note"`
}

// RejectRequest contains the client's reason for rejecting a submission.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisputeRequest contains the reason for raising a dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelRequest contains the reason for cancelling a contract.
type CancelRequest struct {
	Reason string `json:"reason"`
}

func newMilestone(contractID string, position int, in MilestoneInput, now time.Time) Milestone {
	return Milestone{
		ID:          idgen.WithPrefix(idgen.PrefixMilestone),
		ContractID:  contractID,
		Position:    position,
		Title:       in.Title,
		Description: in.Description,
		Amount:      in.Amount,
		Status:      MilestonePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
