package marketplace

import (
	"context"
	"errors"
	"testing"
)

const (
	mpClient     = "acct_client000000000000000001"
	mpFreelancer = "acct_freelancer0000000000001"
	mpOther      = "acct_freelancer0000000000002"
)

type fakeContractCreator struct {
	created []DraftContractRequest
	err     error
}

func (f *fakeContractCreator) CreateDraft(ctx context.Context, req DraftContractRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, req)
	return "ct_draft0000000000000000001", nil
}

func newTestService() (*Service, *fakeContractCreator) {
	creator := &fakeContractCreator{}
	return NewService(NewMemoryStore(), creator), creator
}

func createOpenProject(t *testing.T, svc *Service) *Project {
	t.Helper()
	project, err := svc.CreateProject(context.Background(), mpClient, CreateProjectRequest{
		Title:  "Marketplace API build-out",
		Budget: 500000,
	})
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return project
}

func submitProposal(t *testing.T, svc *Service, projectID, freelancerID string) *Proposal {
	t.Helper()
	proposal, err := svc.SubmitProposal(context.Background(), projectID, freelancerID, SubmitProposalRequest{
		CoverLetter: "I have shipped three of these.",
		Amount:      450000,
		Milestones: []ProposalMilestone{
			{Title: "API design", Amount: 150000},
			{Title: "Implementation", Amount: 300000},
		},
	})
	if err != nil {
		t.Fatalf("SubmitProposal failed: %v", err)
	}
	return proposal
}

func TestCreateProject(t *testing.T) {
	svc, _ := newTestService()
	project := createOpenProject(t, svc)

	if project.Status != ProjectOpen {
		t.Errorf("status = %s, want %s", project.Status, ProjectOpen)
	}
	if project.Currency != "USD" {
		t.Errorf("currency = %s, want USD", project.Currency)
	}

	_, err := svc.CreateProject(context.Background(), mpClient, CreateProjectRequest{Title: "free work", Budget: 0})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCloseProject(t *testing.T) {
	svc, _ := newTestService()
	project := createOpenProject(t, svc)

	if _, err := svc.CloseProject(context.Background(), project.ID, mpFreelancer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	closed, err := svc.CloseProject(context.Background(), project.ID, mpClient)
	if err != nil {
		t.Fatalf("CloseProject failed: %v", err)
	}
	if closed.Status != ProjectClosed {
		t.Errorf("status = %s, want %s", closed.Status, ProjectClosed)
	}
	if _, err := svc.CloseProject(context.Background(), project.ID, mpClient); !errors.Is(err, ErrProjectClosed) {
		t.Errorf("expected ErrProjectClosed, got %v", err)
	}
}

func TestSubmitProposal(t *testing.T) {
	svc, _ := newTestService()
	project := createOpenProject(t, svc)

	proposal := submitProposal(t, svc, project.ID, mpFreelancer)
	if proposal.Status != ProposalPending {
		t.Errorf("status = %s, want %s", proposal.Status, ProposalPending)
	}
}

func TestSubmitProposalGuards(t *testing.T) {
	svc, _ := newTestService()
	project := createOpenProject(t, svc)
	ctx := context.Background()

	// Own project.
	_, err := svc.SubmitProposal(ctx, project.ID, mpClient, SubmitProposalRequest{
		Amount:     1000,
		Milestones: []ProposalMilestone{{Title: "m", Amount: 1000}},
	})
	if !errors.Is(err, ErrOwnProject) {
		t.Errorf("expected ErrOwnProject, got %v", err)
	}

	// Milestone sum mismatch.
	_, err = svc.SubmitProposal(ctx, project.ID, mpFreelancer, SubmitProposalRequest{
		Amount:     1000,
		Milestones: []ProposalMilestone{{Title: "m", Amount: 999}},
	})
	if !errors.Is(err, ErrMilestoneSum) {
		t.Errorf("expected ErrMilestoneSum, got %v", err)
	}

	// No milestones.
	_, err = svc.SubmitProposal(ctx, project.ID, mpFreelancer, SubmitProposalRequest{Amount: 1000})
	if !errors.Is(err, ErrMilestoneSum) {
		t.Errorf("expected ErrMilestoneSum, got %v", err)
	}

	// Closed project.
	if _, err := svc.CloseProject(ctx, project.ID, mpClient); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, err = svc.SubmitProposal(ctx, project.ID, mpFreelancer, SubmitProposalRequest{
		Amount:     1000,
		Milestones: []ProposalMilestone{{Title: "m", Amount: 1000}},
	})
	if !errors.Is(err, ErrProjectClosed) {
		t.Errorf("expected ErrProjectClosed, got %v", err)
	}
}

func TestAcceptProposal(t *testing.T) {
	svc, creator := newTestService()
	ctx := context.Background()
	project := createOpenProject(t, svc)
	winner := submitProposal(t, svc, project.ID, mpFreelancer)
	loser := submitProposal(t, svc, project.ID, mpOther)

	accepted, err := svc.AcceptProposal(ctx, winner.ID, mpClient)
	if err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}
	if accepted.Status != ProposalAccepted {
		t.Errorf("status = %s, want %s", accepted.Status, ProposalAccepted)
	}
	if accepted.ContractID == "" {
		t.Error("expected a contract ID on the accepted proposal")
	}

	// A draft contract was requested with the proposal's terms.
	if len(creator.created) != 1 {
		t.Fatalf("expected 1 draft contract, got %d", len(creator.created))
	}
	draft := creator.created[0]
	if draft.ProjectID != project.ID || draft.ProposalID != winner.ID {
		t.Errorf("draft linkage = %s/%s", draft.ProjectID, draft.ProposalID)
	}
	if draft.TotalAmount != 450000 || len(draft.Milestones) != 2 {
		t.Errorf("draft terms = %d/%d milestones", draft.TotalAmount, len(draft.Milestones))
	}

	// The project closed and the competing proposal was rejected.
	gotProject, _ := svc.GetProject(ctx, project.ID)
	if gotProject.Status != ProjectClosed {
		t.Errorf("project status = %s, want %s", gotProject.Status, ProjectClosed)
	}
	gotLoser, _ := svc.store.GetProposal(ctx, loser.ID)
	if gotLoser.Status != ProposalRejected {
		t.Errorf("losing proposal status = %s, want %s", gotLoser.Status, ProposalRejected)
	}
}

func TestAcceptProposalGuards(t *testing.T) {
	svc, creator := newTestService()
	ctx := context.Background()
	project := createOpenProject(t, svc)
	proposal := submitProposal(t, svc, project.ID, mpFreelancer)

	if _, err := svc.AcceptProposal(ctx, proposal.ID, mpFreelancer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// A failed contract creation leaves the proposal pending.
	creator.err = errors.New("contracts unavailable")
	if _, err := svc.AcceptProposal(ctx, proposal.ID, mpClient); err == nil {
		t.Fatal("expected an error")
	}
	got, _ := svc.store.GetProposal(ctx, proposal.ID)
	if got.Status != ProposalPending {
		t.Errorf("status = %s, want %s", got.Status, ProposalPending)
	}
	gotProject, _ := svc.GetProject(ctx, project.ID)
	if gotProject.Status != ProjectOpen {
		t.Errorf("project status = %s, want %s", gotProject.Status, ProjectOpen)
	}

	// Accepting twice conflicts.
	creator.err = nil
	if _, err := svc.AcceptProposal(ctx, proposal.ID, mpClient); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := svc.AcceptProposal(ctx, proposal.ID, mpClient); !errors.Is(err, ErrProjectClosed) {
		t.Errorf("expected ErrProjectClosed, got %v", err)
	}
}

func TestRejectProposal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	project := createOpenProject(t, svc)
	proposal := submitProposal(t, svc, project.ID, mpFreelancer)

	if _, err := svc.RejectProposal(ctx, proposal.ID, mpOther); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	rejected, err := svc.RejectProposal(ctx, proposal.ID, mpClient)
	if err != nil {
		t.Fatalf("RejectProposal failed: %v", err)
	}
	if rejected.Status != ProposalRejected {
		t.Errorf("status = %s, want %s", rejected.Status, ProposalRejected)
	}
	if _, err := svc.RejectProposal(ctx, proposal.ID, mpClient); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestListProjectsAndProposals(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p1 := createOpenProject(t, svc)
	p2 := createOpenProject(t, svc)
	submitProposal(t, svc, p1.ID, mpFreelancer)
	submitProposal(t, svc, p2.ID, mpFreelancer)

	open, err := svc.ListProjects(ctx, ProjectOpen, "", 10, 0)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("open projects = %d, want 2", len(open))
	}

	// Only the owner can read a project's proposals.
	if _, err := svc.ListProposals(ctx, p1.ID, mpFreelancer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	proposals, err := svc.ListProposals(ctx, p1.ID, mpClient)
	if err != nil {
		t.Fatalf("ListProposals failed: %v", err)
	}
	if len(proposals) != 1 {
		t.Errorf("proposals = %d, want 1", len(proposals))
	}

	mine, err := svc.MyProposals(ctx, mpFreelancer, 10, 0)
	if err != nil {
		t.Fatalf("MyProposals failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("my proposals = %d, want 2", len(mine))
	}
}
