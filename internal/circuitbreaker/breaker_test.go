package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxProbes: 1})

	if !b.Allow() {
		t.Fatal("closed breaker should allow requests")
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxProbes: 1})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected second probe to be rejected")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxProbes: 1})

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxProbes: 1})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}
