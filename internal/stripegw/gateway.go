// Package stripegw implements the payment gateway on Stripe: manual-capture
// payment intents for escrow holds, transfers to connected accounts for
// releases, and refunds. All mutating calls carry caller-supplied
// idempotency keys so retries never double-move money.
package stripegw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
	"github.com/stripe/stripe-go/v81/transfer"

	"github.com/mbd888/workpay/internal/circuitbreaker"
)

// ErrUnavailable is returned when the circuit breaker is open.
var ErrUnavailable = errors.New("payment gateway temporarily unavailable")

// Gateway wraps the Stripe API behind a circuit breaker.
type Gateway struct {
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// New creates a gateway. The Stripe secret key is set process-wide.
func New(secretKey string, logger *slog.Logger) *Gateway {
	stripe.Key = secretKey
	g := &Gateway{
		breaker: circuitbreaker.New("stripe", circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
	g.breaker.OnTransition(func(from, to circuitbreaker.State) {
		logger.Warn("stripe circuit breaker state change", "from", from.String(), "to", to.String())
	})
	return g
}

// call runs fn under the breaker, recording the outcome. Card declines and
// other client-side Stripe errors count as success for breaker purposes;
// only infrastructure failures should open the circuit.
func (g *Gateway) call(operation string, fn func() error) error {
	if !g.breaker.Allow() {
		return ErrUnavailable
	}
	err := fn()
	if err == nil || isClientError(err) {
		g.breaker.RecordSuccess()
	} else {
		g.breaker.RecordFailure()
	}
	if err != nil {
		g.logger.Warn("stripe call failed", "operation", operation, "error", err)
	}
	return err
}

func isClientError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
		return true
	}
	return false
}

// CreateHold places a manual-capture payment intent. Funds are authorized
// but not captured until Capture.
func (g *Gateway) CreateHold(ctx context.Context, amount int64, currency, customerID, idempotencyKey string) (string, string, error) {
	var intent *stripe.PaymentIntent
	err := g.call("create_hold", func() error {
		params := &stripe.PaymentIntentParams{
			Amount:        stripe.Int64(amount),
			Currency:      stripe.String(strings.ToLower(currency)),
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		}
		if customerID != "" {
			params.Customer = stripe.String(customerID)
		}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		intent, err = paymentintent.New(params)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("stripe payment intent failed: %w", err)
	}
	return intent.ID, intent.ClientSecret, nil
}

// Capture settles a previously authorized payment intent.
func (g *Gateway) Capture(ctx context.Context, intentID string) error {
	err := g.call("capture", func() error {
		params := &stripe.PaymentIntentCaptureParams{}
		params.Context = ctx
		_, err := paymentintent.Capture(intentID, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("stripe capture failed: %w", err)
	}
	return nil
}

// CancelHold voids an uncaptured payment intent.
func (g *Gateway) CancelHold(ctx context.Context, intentID string) error {
	err := g.call("cancel_hold", func() error {
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		_, err := paymentintent.Cancel(intentID, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("stripe cancel failed: %w", err)
	}
	return nil
}

// Transfer sends amount to a connected Stripe account.
func (g *Gateway) Transfer(ctx context.Context, destination string, amount int64, currency, idempotencyKey string) (string, error) {
	var tr *stripe.Transfer
	err := g.call("transfer", func() error {
		params := &stripe.TransferParams{
			Amount:      stripe.Int64(amount),
			Currency:    stripe.String(strings.ToLower(currency)),
			Destination: stripe.String(destination),
		}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		tr, err = transfer.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe transfer failed: %w", err)
	}
	return tr.ID, nil
}

// Refund returns the full captured charge for a payment intent.
func (g *Gateway) Refund(ctx context.Context, intentID, idempotencyKey string) (string, error) {
	var rf *stripe.Refund
	err := g.call("refund", func() error {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(intentID),
		}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		rf, err = refund.New(params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("stripe refund failed: %w", err)
	}
	return rf.ID, nil
}
