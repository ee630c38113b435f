package settings

import (
	"context"
	"errors"
	"testing"
)

func int64p(v int64) *int64 { return &v }
func strp(s string) *string { return &s }

func TestCurrentBootstrapsDefaults(t *testing.T) {
	svc := NewService(NewMemoryStore())

	cur, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.Version != 1 {
		t.Errorf("expected version 1, got %d", cur.Version)
	}
	if cur.CommissionRateBps != 1000 {
		t.Errorf("expected default 1000 bps, got %d", cur.CommissionRateBps)
	}
	if cur.Currency != "USD" {
		t.Errorf("expected USD, got %s", cur.Currency)
	}
	if cur.EscrowHoldDays != 7 {
		t.Errorf("expected 7 hold days, got %d", cur.EscrowHoldDays)
	}
}

func TestUpdateCreatesNewVersion(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	first, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	next, err := svc.Update(ctx, UpdateRequest{
		CommissionRateBps: int64p(1500),
		MinCommission:     int64p(500),
	}, "acct_admin")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if next.Version != first.Version+1 {
		t.Errorf("expected version %d, got %d", first.Version+1, next.Version)
	}
	if next.CommissionRateBps != 1500 {
		t.Errorf("expected 1500 bps, got %d", next.CommissionRateBps)
	}
	if next.MinCommission != 500 {
		t.Errorf("expected min commission 500, got %d", next.MinCommission)
	}
	// Unspecified fields carry over.
	if next.Currency != first.Currency {
		t.Errorf("currency changed unexpectedly: %s", next.Currency)
	}
	if next.UpdatedBy != "acct_admin" {
		t.Errorf("expected updatedBy acct_admin, got %s", next.UpdatedBy)
	}

	cur, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.Version != next.Version {
		t.Errorf("Current should return the new version, got %d", cur.Version)
	}
}

func TestUpdateRejectsInvalidRate(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	cases := []UpdateRequest{
		{CommissionRateBps: int64p(-1)},
		{CommissionRateBps: int64p(10001)},
		{MinCommission: int64p(2000), MaxCommission: int64p(1000)},
		{Currency: strp("DOLLARS")},
		{ProcessingFeeBps: int64p(20000)},
	}
	for i, req := range cases {
		if _, err := svc.Update(ctx, req, "acct_admin"); !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("case %d: expected ErrInvalidSettings, got %v", i, err)
		}
	}
}

func TestUpdateRejectsInvalidTier(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Update(context.Background(), UpdateRequest{
		Tiers: []CommissionTier{
			{Name: "bad", RateBps: 800, MinAmount: int64p(100000), MaxAmount: int64p(50000), Active: true},
		},
	}, "acct_admin")
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
}

func TestUpdateAssignsTierIDs(t *testing.T) {
	svc := NewService(NewMemoryStore())

	next, err := svc.Update(context.Background(), UpdateRequest{
		Tiers: []CommissionTier{
			{Name: "enterprise", RateBps: 500, MinAmount: int64p(10000000), Active: true},
		},
	}, "acct_admin")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(next.Tiers) != 1 || next.Tiers[0].ID == "" {
		t.Fatal("expected tier to receive a generated ID")
	}
}

func TestAddAndRemoveTier(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	withTier, err := svc.AddTier(ctx, CommissionTier{
		Name:      "enterprise",
		RateBps:   500,
		MinAmount: int64p(1000000),
		Active:    true,
	}, "acct_admin")
	if err != nil {
		t.Fatalf("AddTier: %v", err)
	}
	if len(withTier.Tiers) != 1 {
		t.Fatalf("expected 1 tier, got %d", len(withTier.Tiers))
	}
	tierID := withTier.Tiers[0].ID
	if tierID == "" {
		t.Error("expected tier to be assigned an ID")
	}
	if withTier.Version != 2 {
		t.Errorf("expected version 2 after AddTier, got %d", withTier.Version)
	}

	removed, err := svc.RemoveTier(ctx, tierID, "acct_admin")
	if err != nil {
		t.Fatalf("RemoveTier: %v", err)
	}
	if len(removed.Tiers) != 0 {
		t.Errorf("expected no tiers, got %d", len(removed.Tiers))
	}
	if removed.Version != 3 {
		t.Errorf("expected version 3 after RemoveTier, got %d", removed.Version)
	}

	if _, err := svc.RemoveTier(ctx, "tier_missing", "acct_admin"); !errors.Is(err, ErrTierNotFound) {
		t.Errorf("expected ErrTierNotFound, got %v", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("Current: %v", err)
	}
	for _, bps := range []int64{1100, 1200, 1300} {
		if _, err := svc.Update(ctx, UpdateRequest{CommissionRateBps: int64p(bps)}, "acct_admin"); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	versions, err := svc.History(ctx, 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(versions) != 4 {
		t.Fatalf("expected 4 versions, got %d", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i-1].Version <= versions[i].Version {
			t.Fatalf("history not newest-first at index %d", i)
		}
	}

	page, err := svc.History(ctx, 2, 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 2 || page[0].Version != 3 {
		t.Fatalf("expected page starting at version 3, got %+v", page)
	}
}

func TestTierContains(t *testing.T) {
	unbounded := CommissionTier{Name: "flat", RateBps: 1000}
	if !unbounded.Contains(0) || !unbounded.Contains(1 << 40) {
		t.Error("unbounded tier should contain everything")
	}

	bounded := CommissionTier{Name: "mid", RateBps: 800, MinAmount: int64p(10000), MaxAmount: int64p(100000)}
	if bounded.Contains(9999) {
		t.Error("below min should not match")
	}
	if !bounded.Contains(10000) || !bounded.Contains(100000) {
		t.Error("bounds are inclusive")
	}
	if bounded.Contains(100001) {
		t.Error("above max should not match")
	}
}
