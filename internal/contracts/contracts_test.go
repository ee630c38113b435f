package contracts

import (
	"context"
	"errors"
	"testing"
)

const (
	client     = "acct_client000000000000000001"
	freelancer = "acct_freelancer0000000000001"
	stranger   = "acct_stranger000000000000001"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func draftRequest() CreateRequest {
	return CreateRequest{
		FreelancerID: freelancer,
		Title:        "Website redesign",
		TotalAmount:  300000,
		Milestones: []MilestoneInput{
			{Title: "Wireframes", Amount: 100000},
			{Title: "Implementation", Amount: 150000},
			{Title: "Launch", Amount: 50000},
		},
	}
}

// activeContract drafts, signs, and activates a contract.
func activeContract(t *testing.T, svc *Service) *Contract {
	t.Helper()
	ctx := context.Background()

	c, err := svc.Create(ctx, client, draftRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Sign(ctx, c.ID, client); err != nil {
		t.Fatalf("Sign (client): %v", err)
	}
	if _, err := svc.Sign(ctx, c.ID, freelancer); err != nil {
		t.Fatalf("Sign (freelancer): %v", err)
	}
	c, err = svc.Activate(ctx, c.ID, client)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return c
}

func TestCreateDraft(t *testing.T) {
	svc := newTestService()

	c, err := svc.Create(context.Background(), client, draftRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != StatusDraft {
		t.Errorf("expected draft, got %s", c.Status)
	}
	if len(c.Milestones) != 3 {
		t.Fatalf("expected 3 milestones, got %d", len(c.Milestones))
	}
	for i, m := range c.Milestones {
		if m.Status != MilestonePending {
			t.Errorf("milestone %d: expected pending, got %s", i, m.Status)
		}
		if m.Position != i {
			t.Errorf("milestone %d: expected position %d, got %d", i, i, m.Position)
		}
	}
	if c.Currency != "USD" {
		t.Errorf("expected USD default, got %s", c.Currency)
	}
}

func TestCreateRejectsMilestoneSumMismatch(t *testing.T) {
	svc := newTestService()

	req := draftRequest()
	req.TotalAmount = 999999
	if _, err := svc.Create(context.Background(), client, req); !errors.Is(err, ErrMilestoneSum) {
		t.Fatalf("expected ErrMilestoneSum, got %v", err)
	}

	req = draftRequest()
	req.Milestones[0].Amount = -100000
	if _, err := svc.Create(context.Background(), client, req); !errors.Is(err, ErrMilestoneSum) {
		t.Fatalf("negative milestone: expected ErrMilestoneSum, got %v", err)
	}
}

func TestCreateRejectsEmptyMilestones(t *testing.T) {
	svc := newTestService()

	req := draftRequest()
	req.Milestones = nil
	if _, err := svc.Create(context.Background(), client, req); !errors.Is(err, ErrNoMilestones) {
		t.Fatalf("expected ErrNoMilestones, got %v", err)
	}
}

func TestCreateRejectsSelfContract(t *testing.T) {
	svc := newTestService()

	req := draftRequest()
	req.FreelancerID = client
	if _, err := svc.Create(context.Background(), client, req); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestActivateRequiresBothSignatures(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, client, draftRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Activate(ctx, c.ID, client); !errors.Is(err, ErrNotSigned) {
		t.Fatalf("unsigned: expected ErrNotSigned, got %v", err)
	}

	if _, err := svc.Sign(ctx, c.ID, client); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := svc.Activate(ctx, c.ID, client); !errors.Is(err, ErrNotSigned) {
		t.Fatalf("half signed: expected ErrNotSigned, got %v", err)
	}

	if _, err := svc.Sign(ctx, c.ID, freelancer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	activated, err := svc.Activate(ctx, c.ID, client)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated.Status != StatusActive {
		t.Errorf("expected active, got %s", activated.Status)
	}
}

func TestActivateOnlyByClient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, client, draftRequest())
	_, _ = svc.Sign(ctx, c.ID, client)
	_, _ = svc.Sign(ctx, c.ID, freelancer)

	if _, err := svc.Activate(ctx, c.ID, freelancer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSignByStranger(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, client, draftRequest())
	if _, err := svc.Sign(ctx, c.ID, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMilestoneLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	c := activeContract(t, svc)
	mid := c.Milestones[0].ID

	// Freelancer starts and submits.
	c, err := svc.StartMilestone(ctx, c.ID, mid, freelancer)
	if err != nil {
		t.Fatalf("StartMilestone: %v", err)
	}
	if c.Milestone(mid).Status != MilestoneInProgress {
		t.Fatalf("expected in_progress, got %s", c.Milestone(mid).Status)
	}

	c, err = svc.SubmitMilestone(ctx, c.ID, mid, freelancer, SubmitRequest{
		DeliverableURL: "https://example.com/wireframes.pdf",
		Note:           "First pass",
	})
	if err != nil {
		t.Fatalf("SubmitMilestone: %v", err)
	}
	m := c.Milestone(mid)
	if m.Status != MilestoneSubmitted || m.SubmittedAt == nil {
		t.Fatalf("expected submitted with timestamp, got %+v", m)
	}

	// Client approves; payment marks it paid.
	c, err = svc.ApproveMilestone(ctx, c.ID, mid, client)
	if err != nil {
		t.Fatalf("ApproveMilestone: %v", err)
	}
	if c.Milestone(mid).Status != MilestoneApproved {
		t.Fatalf("expected approved, got %s", c.Milestone(mid).Status)
	}

	c, err = svc.MarkMilestonePaid(ctx, c.ID, mid, "txn_abc")
	if err != nil {
		t.Fatalf("MarkMilestonePaid: %v", err)
	}
	m = c.Milestone(mid)
	if m.Status != MilestonePaid || m.TransactionID != "txn_abc" || m.PaidAt == nil {
		t.Fatalf("expected paid with transaction, got %+v", m)
	}
	// Contract stays active while other milestones remain.
	if c.Status != StatusActive {
		t.Fatalf("expected active, got %s", c.Status)
	}
}

func TestRejectThenRestartMilestone(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	c := activeContract(t, svc)
	mid := c.Milestones[0].ID

	_, _ = svc.StartMilestone(ctx, c.ID, mid, freelancer)
	_, _ = svc.SubmitMilestone(ctx, c.ID, mid, freelancer, SubmitRequest{})

	c, err := svc.RejectMilestone(ctx, c.ID, mid, client, "missing mobile layouts")
	if err != nil {
		t.Fatalf("RejectMilestone: %v", err)
	}
	m := c.Milestone(mid)
	if m.Status != MilestoneRejected || m.RejectionReason != "missing mobile layouts" {
		t.Fatalf("expected rejected with reason, got %+v", m)
	}

	// Freelancer can restart a rejected milestone.
	c, err = svc.StartMilestone(ctx, c.ID, mid, freelancer)
	if err != nil {
		t.Fatalf("StartMilestone after reject: %v", err)
	}
	if c.Milestone(mid).Status != MilestoneInProgress {
		t.Fatalf("expected in_progress, got %s", c.Milestone(mid).Status)
	}

	// Resubmitting clears the rejection reason.
	c, err = svc.SubmitMilestone(ctx, c.ID, mid, freelancer, SubmitRequest{Note: "Revised"})
	if err != nil {
		t.Fatalf("SubmitMilestone: %v", err)
	}
	if c.Milestone(mid).RejectionReason != "" {
		t.Error("rejection reason should be cleared on resubmit")
	}
}

func TestMilestoneGuards(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	c := activeContract(t, svc)
	mid := c.Milestones[0].ID

	// Client cannot start or submit.
	if _, err := svc.StartMilestone(ctx, c.ID, mid, client); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("client start: expected ErrUnauthorized, got %v", err)
	}
	// Freelancer cannot approve or reject.
	_, _ = svc.StartMilestone(ctx, c.ID, mid, freelancer)
	_, _ = svc.SubmitMilestone(ctx, c.ID, mid, freelancer, SubmitRequest{})
	if _, err := svc.ApproveMilestone(ctx, c.ID, mid, freelancer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("freelancer approve: expected ErrUnauthorized, got %v", err)
	}
	// Cannot approve a milestone that is not submitted.
	other := c.Milestones[1].ID
	if _, err := svc.ApproveMilestone(ctx, c.ID, other, client); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("approve pending: expected ErrInvalidStatus, got %v", err)
	}
	// Submitting directly from pending is allowed (start is optional).
	if _, err := svc.SubmitMilestone(ctx, c.ID, other, freelancer, SubmitRequest{}); err != nil {
		t.Errorf("submit from pending: %v", err)
	}
	// But not twice.
	if _, err := svc.SubmitMilestone(ctx, c.ID, other, freelancer, SubmitRequest{}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("double submit: expected ErrInvalidStatus, got %v", err)
	}
	// Unknown milestone.
	if _, err := svc.StartMilestone(ctx, c.ID, "ms_nope", freelancer); !errors.Is(err, ErrMilestoneNotFound) {
		t.Errorf("expected ErrMilestoneNotFound, got %v", err)
	}
}

func TestContractAutoCompletes(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	c := activeContract(t, svc)

	for _, m := range c.Milestones {
		if _, err := svc.StartMilestone(ctx, c.ID, m.ID, freelancer); err != nil {
			t.Fatalf("StartMilestone: %v", err)
		}
		if _, err := svc.SubmitMilestone(ctx, c.ID, m.ID, freelancer, SubmitRequest{}); err != nil {
			t.Fatalf("SubmitMilestone: %v", err)
		}
		if _, err := svc.ApproveMilestone(ctx, c.ID, m.ID, client); err != nil {
			t.Fatalf("ApproveMilestone: %v", err)
		}
		if _, err := svc.MarkMilestonePaid(ctx, c.ID, m.ID, "txn_"+m.ID); err != nil {
			t.Fatalf("MarkMilestonePaid: %v", err)
		}
	}

	final, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.ResolvedAt == nil {
		t.Error("expected resolvedAt to be set")
	}
}

func TestPauseResume(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	c := activeContract(t, svc)

	paused, err := svc.Pause(ctx, c.ID, freelancer)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}

	// No milestone work while paused.
	if _, err := svc.StartMilestone(ctx, c.ID, c.Milestones[0].ID, freelancer); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus while paused, got %v", err)
	}

	resumed, err := svc.Resume(ctx, c.ID, client)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusActive {
		t.Fatalf("expected active, got %s", resumed.Status)
	}
}

func TestDisputeAndResolve(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	c := activeContract(t, svc)

	disputed, err := svc.Dispute(ctx, c.ID, freelancer, "client unresponsive")
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if disputed.Status != StatusDisputed || disputed.DisputedBy != freelancer {
		t.Fatalf("unexpected dispute state: %+v", disputed)
	}

	resolved, err := svc.ResolveDispute(ctx, c.ID, "resume")
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if resolved.Status != StatusActive || resolved.DisputeReason != "" {
		t.Fatalf("expected active with cleared dispute, got %+v", resolved)
	}

	// Dispute again and cancel.
	_, _ = svc.Dispute(ctx, c.ID, client, "scope disagreement")
	cancelled, err := svc.ResolveDispute(ctx, c.ID, "cancel")
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestCancelGuards(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// Drafts cancel freely.
	draft, _ := svc.Create(ctx, client, draftRequest())
	cancelled, err := svc.Cancel(ctx, draft.ID, client, "changed plans")
	if err != nil {
		t.Fatalf("Cancel draft: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledBy != client {
		t.Fatalf("unexpected cancel state: %+v", cancelled)
	}

	// Terminal contracts reject further operations.
	if _, err := svc.Cancel(ctx, draft.ID, client, "again"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}

	// Active contract with submitted work cannot cancel.
	c := activeContract(t, svc)
	mid := c.Milestones[0].ID
	_, _ = svc.StartMilestone(ctx, c.ID, mid, freelancer)
	_, _ = svc.SubmitMilestone(ctx, c.ID, mid, freelancer, SubmitRequest{})
	if _, err := svc.Cancel(ctx, c.ID, client, "nope"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus with submitted work, got %v", err)
	}

	// After rejection the work is back with the freelancer; cancel is allowed.
	if _, err := svc.RejectMilestone(ctx, c.ID, mid, client, "not usable"); err != nil {
		t.Fatalf("RejectMilestone: %v", err)
	}
	if _, err := svc.Cancel(ctx, c.ID, client, "ending engagement"); err != nil {
		t.Fatalf("Cancel after reject: %v", err)
	}
}

func TestListByAccount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_ = activeContract(t, svc)
	draft, _ := svc.Create(ctx, client, draftRequest())
	_ = draft

	all, err := svc.ListByAccount(ctx, client, "", 10, 0)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 contracts, got %d", len(all))
	}

	drafts, err := svc.ListByAccount(ctx, client, StatusDraft, 10, 0)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}

	none, err := svc.ListByAccount(ctx, stranger, "", 10, 0)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no contracts for stranger, got %d", len(none))
	}
}
