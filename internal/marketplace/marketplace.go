// Package marketplace manages project listings and freelancer proposals.
// Accepting a proposal closes the project and opens a draft contract.
package marketplace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/workpay/internal/idgen"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrUnauthorized     = errors.New("not authorized for this resource")
	ErrProjectClosed    = errors.New("project is closed")
	ErrOwnProject       = errors.New("cannot submit a proposal to your own project")
	ErrAlreadyDecided   = errors.New("proposal has already been decided")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrMilestoneSum     = errors.New("milestone amounts must sum to the proposal amount")
)

// ProjectStatus is the lifecycle state of a project listing.
type ProjectStatus string

const (
	ProjectOpen   ProjectStatus = "open"
	ProjectClosed ProjectStatus = "closed"
)

// Project is a client's listed piece of work.
type Project struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"clientId"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Budget      int64         `json:"budget"`
	Currency    string        `json:"currency"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ProposalStatus is the decision state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// ProposalMilestone is a suggested payment milestone within a proposal.
type ProposalMilestone struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount"`
}

// Proposal is a freelancer's bid on a project.
type Proposal struct {
	ID           string              `json:"id"`
	ProjectID    string              `json:"projectId"`
	FreelancerID string              `json:"freelancerId"`
	CoverLetter  string              `json:"coverLetter,omitempty"`
	Amount       int64               `json:"amount"`
	Milestones   []ProposalMilestone `json:"milestones"`
	Status       ProposalStatus      `json:"status"`
	ContractID   string              `json:"contractId,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Store persists projects and proposals.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	ListProjects(ctx context.Context, status ProjectStatus, clientID string, limit, offset int) ([]*Project, error)

	CreateProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, id string) (*Proposal, error)
	UpdateProposal(ctx context.Context, p *Proposal) error
	ListProposalsByProject(ctx context.Context, projectID string) ([]*Proposal, error)
	ListProposalsByFreelancer(ctx context.Context, freelancerID string, limit, offset int) ([]*Proposal, error)
}

// ContractCreator opens a draft contract when a proposal is accepted.
type ContractCreator interface {
	CreateDraft(ctx context.Context, req DraftContractRequest) (contractID string, err error)
}

// DraftContractRequest carries the accepted proposal's terms.
type DraftContractRequest struct {
	ProjectID    string
	ProposalID   string
	ClientID     string
	FreelancerID string
	Title        string
	TotalAmount  int64
	Currency     string
	Milestones   []ProposalMilestone
}

// Service implements the marketplace operations.
type Service struct {
	store     Store
	contracts ContractCreator
}

// NewService creates a marketplace service.
func NewService(store Store, contracts ContractCreator) *Service {
	return &Service{store: store, contracts: contracts}
}

// CreateProjectRequest contains the fields for listing a project.
type CreateProjectRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Budget      int64  `json:"budget" binding:"required"`
	Currency    string `json:"currency"`
}

// CreateProject lists a new open project for the calling client.
func (s *Service) CreateProject(ctx context.Context, clientID string, req CreateProjectRequest) (*Project, error) {
	if req.Budget <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	project := &Project{
		ID:          idgen.WithPrefix(idgen.PrefixProject),
		ClientID:    clientID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Budget:      req.Budget,
		Currency:    currency,
		Status:      ProjectOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject returns a project by ID.
func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.store.GetProject(ctx, id)
}

// ListProjects returns projects, optionally filtered by status or client.
func (s *Service) ListProjects(ctx context.Context, status ProjectStatus, clientID string, limit, offset int) ([]*Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListProjects(ctx, status, clientID, limit, offset)
}

// CloseProject withdraws an open project. Owner only.
func (s *Service) CloseProject(ctx context.Context, id, callerID string) (*Project, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.ClientID != callerID {
		return nil, ErrUnauthorized
	}
	if project.Status == ProjectClosed {
		return nil, ErrProjectClosed
	}
	project.Status = ProjectClosed
	project.UpdatedAt = time.Now()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// SubmitProposalRequest contains the fields for bidding on a project.
type SubmitProposalRequest struct {
	CoverLetter string              `json:"coverLetter"`
	Amount      int64               `json:"amount" binding:"required"`
	Milestones  []ProposalMilestone `json:"milestones" binding:"required"`
}

// SubmitProposal bids on an open project. The milestone amounts must sum
// exactly to the proposal amount so an accepted proposal converts directly
// into a contract.
func (s *Service) SubmitProposal(ctx context.Context, projectID, freelancerID string, req SubmitProposalRequest) (*Proposal, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status != ProjectOpen {
		return nil, ErrProjectClosed
	}
	if project.ClientID == freelancerID {
		return nil, ErrOwnProject
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var sum int64
	for _, m := range req.Milestones {
		if m.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		sum += m.Amount
	}
	if len(req.Milestones) == 0 || sum != req.Amount {
		return nil, ErrMilestoneSum
	}

	now := time.Now()
	proposal := &Proposal{
		ID:           idgen.WithPrefix(idgen.PrefixProposal),
		ProjectID:    projectID,
		FreelancerID: freelancerID,
		CoverLetter:  req.CoverLetter,
		Amount:       req.Amount,
		Milestones:   req.Milestones,
		Status:       ProposalPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return nil, err
	}
	return proposal, nil
}

// ListProposals returns a project's proposals. Project owner only.
func (s *Service) ListProposals(ctx context.Context, projectID, callerID string) ([]*Proposal, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.ClientID != callerID {
		return nil, ErrUnauthorized
	}
	return s.store.ListProposalsByProject(ctx, projectID)
}

// MyProposals returns the calling freelancer's proposals.
func (s *Service) MyProposals(ctx context.Context, freelancerID string, limit, offset int) ([]*Proposal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListProposalsByFreelancer(ctx, freelancerID, limit, offset)
}

// AcceptProposal accepts a bid: the project closes, competing proposals are
// rejected, and a draft contract is created from the proposal's milestones.
func (s *Service) AcceptProposal(ctx context.Context, proposalID, callerID string) (*Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, proposal.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.ClientID != callerID {
		return nil, ErrUnauthorized
	}
	if project.Status != ProjectOpen {
		return nil, ErrProjectClosed
	}
	if proposal.Status != ProposalPending {
		return nil, ErrAlreadyDecided
	}

	contractID, err := s.contracts.CreateDraft(ctx, DraftContractRequest{
		ProjectID:    project.ID,
		ProposalID:   proposal.ID,
		ClientID:     project.ClientID,
		FreelancerID: proposal.FreelancerID,
		Title:        project.Title,
		TotalAmount:  proposal.Amount,
		Currency:     project.Currency,
		Milestones:   proposal.Milestones,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	proposal.Status = ProposalAccepted
	proposal.ContractID = contractID
	proposal.UpdatedAt = now
	if err := s.store.UpdateProposal(ctx, proposal); err != nil {
		return nil, err
	}

	project.Status = ProjectClosed
	project.UpdatedAt = now
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	// Losing bids are rejected in bulk; failures here don't undo the accept.
	others, err := s.store.ListProposalsByProject(ctx, project.ID)
	if err == nil {
		for _, other := range others {
			if other.ID == proposal.ID || other.Status != ProposalPending {
				continue
			}
			other.Status = ProposalRejected
			other.UpdatedAt = now
			_ = s.store.UpdateProposal(ctx, other)
		}
	}

	return proposal, nil
}

// RejectProposal declines a bid. Project owner only.
func (s *Service) RejectProposal(ctx context.Context, proposalID, callerID string) (*Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, proposal.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.ClientID != callerID {
		return nil, ErrUnauthorized
	}
	if proposal.Status != ProposalPending {
		return nil, ErrAlreadyDecided
	}

	proposal.Status = ProposalRejected
	proposal.UpdatedAt = time.Now()
	if err := s.store.UpdateProposal(ctx, proposal); err != nil {
		return nil, err
	}
	return proposal, nil
}
