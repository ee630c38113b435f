// Package notify delivers platform events to subscriber webhooks.
//
// Accounts register notification URLs to receive:
// - Payment lifecycle events (received, refunded)
// - Escrow releases
// - Milestone submissions and approvals
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/workpay/internal/idgen"
	"github.com/mbd888/workpay/internal/metrics"
	"github.com/mbd888/workpay/internal/security"
)

// ErrSubscriptionNotFound is returned for unknown subscription IDs.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// EventType identifies a platform event.
type EventType string

const (
	EventPaymentReceived    EventType = "payment.received"
	EventPaymentRefunded    EventType = "payment.refunded"
	EventEscrowReleased     EventType = "escrow.released"
	EventMilestoneSubmitted EventType = "milestone.submitted"
	EventMilestoneApproved  EventType = "milestone.approved"
)

// KnownEvent reports whether t is a deliverable event type.
func KnownEvent(t EventType) bool {
	switch t {
	case EventPaymentReceived, EventPaymentRefunded, EventEscrowReleased,
		EventMilestoneSubmitted, EventMilestoneApproved:
		return true
	}
	return false
}

// Event is the payload delivered to subscribers.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription is a registered notification endpoint.
type Subscription struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"accountId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // HMAC signing key, shown once at creation
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
	// FailureCount tracks consecutive failed deliveries; reset on success.
	FailureCount int `json:"failureCount,omitempty"`
}

func (s *Subscription) wants(t EventType) bool {
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists notification subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// RetryConfig controls delivery retries and automatic deactivation.
type RetryConfig struct {
	// MaxAttempts is the number of delivery attempts per event.
	MaxAttempts int
	// BaseDelay is the initial backoff between attempts.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// MaxFailures deactivates a subscription after this many consecutive
	// failed deliveries. 0 disables deactivation.
	MaxFailures int
}

// DefaultRetryConfig retries twice with backoff and deactivates endpoints
// that fail 50 deliveries in a row.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxFailures: 50,
	}
}

// Dispatcher fans platform events out to subscriber endpoints.
type Dispatcher struct {
	store        Store
	client       *http.Client
	logger       *slog.Logger
	retry        RetryConfig
	urlValidator func(string) error
}

// NewDispatcher creates a dispatcher with default retry behavior and a
// 10 second per-request timeout.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithRetry(store, logger, DefaultRetryConfig())
}

// NewDispatcherWithRetry creates a dispatcher with explicit retry behavior.
func NewDispatcherWithRetry(store Store, logger *slog.Logger, retry RetryConfig) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       logger,
		retry:        retry,
		urlValidator: security.ValidateEndpointURL,
	}
}

// Publish implements the event publisher used by the payment and contract
// services. Delivery is asynchronous; a slow subscriber never blocks a
// payment operation.
func (d *Dispatcher) Publish(ctx context.Context, eventType string, payload interface{}) {
	event := &Event{
		ID:        idgen.WithPrefix(idgen.PrefixEvent),
		Type:      EventType(eventType),
		Timestamp: time.Now(),
		Data:      payload,
	}
	if err := d.Dispatch(ctx, event); err != nil {
		d.logger.Warn("event dispatch failed", "eventType", eventType, "error", err)
	}
}

// Dispatch sends an event to all active subscribers of its type.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		// Deliveries run detached from the request context so an HTTP
		// response does not cancel them mid-flight.
		go d.send(context.Background(), sub, event)
	}
	return nil
}

// DispatchToAccount sends an event to one account's subscriptions only.
func (d *Dispatcher) DispatchToAccount(ctx context.Context, accountID string, event *Event) error {
	subs, err := d.store.GetByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(event.Type) {
			continue
		}
		go d.send(context.Background(), sub, event)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if d.urlValidator != nil {
		if err := d.urlValidator(sub.URL); err != nil {
			d.updateError(ctx, sub, fmt.Sprintf("endpoint rejected: %v", err))
			return
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	delay := d.retry.BaseDelay
	var lastErr string
	for attempt := 0; attempt < d.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				d.updateError(ctx, sub, "delivery cancelled")
				return
			case <-time.After(delay):
			}
			delay *= 2
			if d.retry.MaxDelay > 0 && delay > d.retry.MaxDelay {
				delay = d.retry.MaxDelay
			}
		}
		lastErr = d.attempt(ctx, sub, event, payload)
		if lastErr == "" {
			metrics.NotificationDeliveriesTotal.WithLabelValues("ok").Inc()
			d.updateSuccess(ctx, sub)
			return
		}
	}
	metrics.NotificationDeliveriesTotal.WithLabelValues("error").Inc()
	d.updateError(ctx, sub, lastErr)
}

// attempt performs one delivery and returns an error description, empty on
// success.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, event *Event, payload []byte) string {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return "failed to create request"
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workpay-Event", string(event.Type))
	req.Header.Set("X-Workpay-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Workpay-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ""
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 of payload with the subscription secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.FailureCount = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record delivery success", "subscriptionId", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.FailureCount++
	if d.retry.MaxFailures > 0 && sub.FailureCount >= d.retry.MaxFailures {
		sub.Active = false
		d.logger.Warn("deactivating subscription after repeated failures",
			"subscriptionId", sub.ID, "failures", sub.FailureCount)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record delivery error", "subscriptionId", sub.ID, "error", err)
	}
}
