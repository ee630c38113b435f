package stripegw

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/workpay/internal/transactions"
)

// webhookMaxBody caps the webhook payload size.
const webhookMaxBody = 65536

// PaymentRecorder is the part of the transaction service the webhook drives.
type PaymentRecorder interface {
	ConfirmPayment(ctx context.Context, paymentIntentID string) (*transactions.Transaction, error)
	MarkFailed(ctx context.Context, paymentIntentID, reason string) (*transactions.Transaction, error)
}

// WebhookHandler verifies and dispatches Stripe webhook events.
type WebhookHandler struct {
	secret   string
	recorder PaymentRecorder
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler. secret is the endpoint's
// signing secret from the Stripe dashboard.
func NewWebhookHandler(secret string, recorder PaymentRecorder, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, recorder: recorder, logger: logger}
}

// RegisterRoutes registers the webhook endpoint. It must not sit behind
// API-key auth; Stripe authenticates via the signature header.
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/stripe/webhook", h.handle)
}

func (h *WebhookHandler) handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	ctx := c.Request.Context()

	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		// The client authorized the charge; capture it into escrow.
		intent, err := parseIntent(event)
		if err != nil {
			h.logger.Error("failed to parse payment intent event", "eventId", event.ID, "error", err)
			break
		}
		if _, err := h.recorder.ConfirmPayment(ctx, intent.ID); err != nil {
			h.logger.Error("failed to confirm payment from webhook",
				"eventId", event.ID, "paymentIntentId", intent.ID, "error", err)
			// Non-2xx makes Stripe redeliver; confirmation is idempotent.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "confirm_failed"})
			return
		}

	case "payment_intent.payment_failed":
		intent, err := parseIntent(event)
		if err != nil {
			h.logger.Error("failed to parse payment intent event", "eventId", event.ID, "error", err)
			break
		}
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		if _, err := h.recorder.MarkFailed(ctx, intent.ID, reason); err != nil {
			h.logger.Error("failed to record payment failure",
				"eventId", event.ID, "paymentIntentId", intent.ID, "error", err)
		}

	case "payment_intent.canceled":
		// Cancellation is initiated by us; nothing to record.

	default:
		h.logger.Debug("ignoring webhook event", "type", event.Type, "eventId", event.ID)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func parseIntent(event stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}
