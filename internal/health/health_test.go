package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckAllHealthy(t *testing.T) {
	c := NewChecker()
	c.Register("database", func(ctx context.Context) error { return nil })
	c.Register("gateway", func(ctx context.Context) error { return nil })

	ok, results := c.CheckAll(context.Background())
	if !ok {
		t.Fatal("expected overall healthy")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusHealthy {
			t.Fatalf("check %s: expected healthy, got %s", r.Name, r.Status)
		}
	}
}

func TestCheckAllUnhealthy(t *testing.T) {
	c := NewChecker()
	c.Register("database", func(ctx context.Context) error { return nil })
	c.Register("gateway", func(ctx context.Context) error { return errors.New("connection refused") })

	ok, results := c.CheckAll(context.Background())
	if ok {
		t.Fatal("expected overall unhealthy")
	}
	var found bool
	for _, r := range results {
		if r.Name == "gateway" {
			found = true
			if r.Status != StatusUnhealthy {
				t.Fatalf("expected unhealthy gateway, got %s", r.Status)
			}
			if r.Error != "connection refused" {
				t.Fatalf("unexpected error message %q", r.Error)
			}
		}
	}
	if !found {
		t.Fatal("gateway result missing")
	}
}

func TestCheckAllEmpty(t *testing.T) {
	c := NewChecker()
	ok, results := c.CheckAll(context.Background())
	if !ok {
		t.Fatal("empty checker should be healthy")
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
