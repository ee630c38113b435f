package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcherWithRetry(store, slog.Default(), RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		MaxFailures: 50,
	})
	d.urlValidator = noopValidator
	return d
}

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "sub_test1",
		AccountID: "acct_a",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventPaymentReceived},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "sub_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("URL = %s", got.URL)
	}

	sub.Active = false
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ = store.Get(ctx, "sub_test1")
	if got.Active {
		t.Error("expected inactive after update")
	}

	if err := store.Delete(ctx, "sub_test1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "sub_test1"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestMemoryStoreGetByAccount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "s1", AccountID: "acct_a", Events: []EventType{EventPaymentReceived}})
	store.Create(ctx, &Subscription{ID: "s2", AccountID: "acct_b", Events: []EventType{EventPaymentReceived}})
	store.Create(ctx, &Subscription{ID: "s3", AccountID: "acct_a", Events: []EventType{EventEscrowReleased}})

	subs, _ := store.GetByAccount(ctx, "acct_a")
	if len(subs) != 2 {
		t.Errorf("expected 2 subscriptions for acct_a, got %d", len(subs))
	}
}

func TestMemoryStoreGetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "s1", Events: []EventType{EventPaymentReceived, EventEscrowReleased}})
	store.Create(ctx, &Subscription{ID: "s2", Events: []EventType{EventMilestoneApproved}})
	store.Create(ctx, &Subscription{ID: "s3", Events: []EventType{EventPaymentReceived}})

	subs, _ := store.GetByEvent(ctx, EventPaymentReceived)
	if len(subs) != 2 {
		t.Errorf("expected 2 subscribers for payment.received, got %d", len(subs))
	}
}

func TestSign(t *testing.T) {
	payload := []byte(`{"type":"payment.received","data":{}}`)
	secret := "test_secret_key"

	sig := Sign(payload, secret)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))
	if sig != expected {
		t.Errorf("signature mismatch: got %s, want %s", sig, expected)
	}

	if Sign(payload, "other_secret") == sig {
		t.Error("different secrets should produce different signatures")
	}
}

func TestDispatchSendsToSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "s1",
		URL:    server.URL,
		Events: []EventType{EventPaymentReceived},
		Active: true,
	})
	store.Create(ctx, &Subscription{
		ID:     "s2",
		URL:    server.URL,
		Events: []EventType{EventPaymentReceived},
		Active: false, // inactive, skipped
	})

	d := newTestDispatcher(store)
	if err := d.Dispatch(ctx, &Event{Type: EventPaymentReceived, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}
}

func TestDispatchIncludesSignatureAndHeaders(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotSig, gotEventType string
	var gotBody []byte
	secret := "test_subscription_secret"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Workpay-Signature")
		gotEventType = r.Header.Get("X-Workpay-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "s1",
		URL:    server.URL,
		Secret: secret,
		Events: []EventType{EventEscrowReleased},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventEscrowReleased,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"transactionId": "txn_1", "amount": 135000},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if gotEventType != "escrow.released" {
		t.Errorf("event header = %s, want escrow.released", gotEventType)
	}
	if gotSig == "" {
		t.Fatal("expected a signature header")
	}
	if gotSig != Sign(gotBody, secret) {
		t.Error("signature does not verify against the delivered body")
	}

	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if parsed.Type != EventEscrowReleased {
		t.Errorf("payload type = %s", parsed.Type)
	}
}

func TestDispatchErrorUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "s1",
		URL:    server.URL,
		Events: []EventType{EventPaymentReceived},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventPaymentReceived, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "s1")
	if sub.LastError == "" {
		t.Error("expected lastError after a 500 response")
	}
	if sub.FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", sub.FailureCount)
	}
}

func TestDispatchSuccessResetsFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:           "s1",
		URL:          server.URL,
		Events:       []EventType{EventPaymentReceived},
		Active:       true,
		FailureCount: 3,
		LastError:    "status 500",
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventPaymentReceived, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "s1")
	if sub.LastSuccess == nil {
		t.Error("expected lastSuccess after delivery")
	}
	if sub.LastError != "" || sub.FailureCount != 0 {
		t.Errorf("expected failure state reset, got %q/%d", sub.LastError, sub.FailureCount)
	}
}

func TestDispatchDeactivatesAfterRepeatedFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:           "s1",
		URL:          server.URL,
		Events:       []EventType{EventPaymentReceived},
		Active:       true,
		FailureCount: 49,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventPaymentReceived, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "s1")
	if sub.Active {
		t.Error("expected deactivation at the failure threshold")
	}
}

func TestDispatchRejectsInvalidEndpoint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "s1",
		URL:    "http://169.254.169.254/latest/meta-data",
		Events: []EventType{EventPaymentReceived},
		Active: true,
	})

	// Default validator blocks internal addresses.
	d := NewDispatcher(store, slog.Default())
	d.Dispatch(ctx, &Event{Type: EventPaymentReceived, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "s1")
	if sub.LastError == "" {
		t.Error("expected an endpoint rejection error")
	}
}

func TestDispatchToAccountFilters(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{ID: "s1", AccountID: "acct_a", URL: server.URL, Events: []EventType{EventPaymentReceived}, Active: true})
	store.Create(ctx, &Subscription{ID: "s2", AccountID: "acct_a", URL: server.URL, Events: []EventType{EventMilestoneApproved}, Active: true})
	store.Create(ctx, &Subscription{ID: "s3", AccountID: "acct_b", URL: server.URL, Events: []EventType{EventPaymentReceived}, Active: true})

	d := newTestDispatcher(store)
	d.DispatchToAccount(ctx, "acct_a", &Event{Type: EventPaymentReceived, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)
	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}
}

func TestPublishDeliversEvent(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "s1",
		URL:    server.URL,
		Events: []EventType{EventPaymentRefunded},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Publish(ctx, "payment.refunded", map[string]interface{}{"transactionId": "txn_1"})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if parsed.ID == "" {
		t.Error("expected a generated event ID")
	}
	if parsed.Type != EventPaymentRefunded {
		t.Errorf("type = %s", parsed.Type)
	}
}

func TestKnownEvent(t *testing.T) {
	for _, et := range []EventType{
		EventPaymentReceived, EventPaymentRefunded, EventEscrowReleased,
		EventMilestoneSubmitted, EventMilestoneApproved,
	} {
		if !KnownEvent(et) {
			t.Errorf("expected %s to be known", et)
		}
	}
	if KnownEvent("account.deleted") {
		t.Error("unexpected event type accepted")
	}
}
