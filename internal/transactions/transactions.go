// Package transactions implements the escrow payment lifecycle.
//
// Flow:
//  1. Client funds an approved milestone → gateway hold → pending/processing
//  2. Gateway confirms the charge → funds captured → held_in_escrow
//  3. Client (or the hold timer) releases → transfer to freelancer → released
//  4. Payout batch settles → paid_out
//  5. Refund within the window returns the full charge → refunded
//
// A transaction's fee breakdown is computed once at creation from the
// settings version current at that moment and never recomputed.
package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/workpay/internal/fees"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidStatus       = errors.New("invalid transaction status for this operation")
	ErrUnauthorized        = errors.New("not authorized for this transaction operation")
	ErrAlreadyResolved     = errors.New("transaction already resolved")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrStaleVersion        = errors.New("transaction was modified concurrently")
	ErrRefundWindowClosed  = errors.New("refund window has closed")
	ErrNoPayoutDestination = errors.New("freelancer has no payout destination")
	ErrContractNotFound    = errors.New("contract not found")
	ErrMilestoneNotFound   = errors.New("milestone not found")
	ErrMilestoneNotPayable = errors.New("milestone is not approved for payment")
	ErrContractNotActive   = errors.New("contract is not active")
)

// Status represents the state of a transaction.
type Status string

const (
	StatusPending      Status = "pending"        // Created, gateway hold requested
	StatusProcessing   Status = "processing"     // Client confirmed, charge in flight
	StatusHeldInEscrow Status = "held_in_escrow" // Funds captured, held by platform
	StatusReleased     Status = "released"       // Transferred to the freelancer
	StatusPaidOut      Status = "paid_out"       // Settled by the payout batch
	StatusRefunded     Status = "refunded"       // Returned to the client
	StatusFailed       Status = "failed"         // Gateway declined or errored
	StatusCancelled    Status = "cancelled"      // Abandoned before funds were held
)

// Transaction is an immutable financial record of one milestone payment.
// Monetary fields are minor currency units. The fee breakdown is fixed at
// creation: Commission + ProcessingFee + Tax + FreelancerAmount == Amount.
type Transaction struct {
	ID               string     `json:"id"`
	ContractID       string     `json:"contractId"`
	MilestoneID      string     `json:"milestoneId,omitempty"`
	ClientID         string     `json:"clientId"`
	FreelancerID     string     `json:"freelancerId"`
	Amount           int64      `json:"amount"`
	Commission       int64      `json:"commission"`
	ProcessingFee    int64      `json:"processingFee"`
	Tax              int64      `json:"tax"`
	FreelancerAmount int64      `json:"freelancerAmount"`
	Currency         string     `json:"currency"`
	Status           Status     `json:"status"`
	PaymentIntentID  string     `json:"paymentIntentId,omitempty"`
	TransferID       string     `json:"transferId,omitempty"`
	RefundID         string     `json:"refundId,omitempty"`
	EscrowReleaseAt  *time.Time `json:"escrowReleaseAt,omitempty"`
	ReleasedAt       *time.Time `json:"releasedAt,omitempty"`
	RefundedAt       *time.Time `json:"refundedAt,omitempty"`
	PaidOutAt        *time.Time `json:"paidOutAt,omitempty"`
	FailureReason    string     `json:"failureReason,omitempty"`
	RefundReason     string     `json:"refundReason,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusPaidOut, StatusRefunded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Participant reports whether accountID is the client or the freelancer.
func (t *Transaction) Participant(accountID string) bool {
	return accountID == t.ClientID || accountID == t.FreelancerID
}

// canTransition validates the escrow state machine.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusHeldInEscrow ||
			to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to == StatusHeldInEscrow || to == StatusFailed || to == StatusCancelled
	case StatusHeldInEscrow:
		return to == StatusReleased || to == StatusRefunded
	case StatusReleased:
		return to == StatusPaidOut || to == StatusRefunded
	default:
		return false
	}
}

// Store persists transactions. Update checks the Version field and
// increments it atomically; a mismatch returns ErrStaleVersion.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	ListByAccount(ctx context.Context, accountID string, status Status, before time.Time, beforeID string, limit int) ([]*Transaction, error)
	ListReleasable(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}

// Gateway abstracts the payment processor so transactions doesn't import
// the Stripe SDK.
type Gateway interface {
	// CreateHold places a manual-capture hold for amount and returns the
	// gateway payment reference and the client secret for the frontend.
	CreateHold(ctx context.Context, amount int64, currency, customerID, idempotencyKey string) (intentID, clientSecret string, err error)
	// Capture settles a previously held charge.
	Capture(ctx context.Context, intentID string) error
	// CancelHold voids an uncaptured hold.
	CancelHold(ctx context.Context, intentID string) error
	// Transfer sends amount to a connected account.
	Transfer(ctx context.Context, destination string, amount int64, currency, idempotencyKey string) (transferID string, err error)
	// Refund returns the full captured charge to the client.
	Refund(ctx context.Context, intentID, idempotencyKey string) (refundID string, err error)
}

// ContractService abstracts milestone coordination so transactions doesn't
// import contracts.
type ContractService interface {
	// ApprovedMilestone returns the parties and amount of an approved
	// milestone, or an error when it is not payable.
	ApprovedMilestone(ctx context.Context, contractID, milestoneID string) (clientID, freelancerID string, amount int64, currency string, err error)
	// ActiveContract returns the parties and currency of an active
	// contract for a direct payment outside any milestone.
	ActiveContract(ctx context.Context, contractID string) (clientID, freelancerID, currency string, err error)
	// AttachTransaction links a payment to its milestone.
	AttachTransaction(ctx context.Context, contractID, milestoneID, transactionID string) error
	// MarkMilestonePaid advances the milestone to paid after release.
	MarkMilestonePaid(ctx context.Context, contractID, milestoneID, transactionID string) error
}

// AccountDirectory resolves gateway identifiers for platform accounts.
type AccountDirectory interface {
	// PayoutDestination returns the freelancer's connected account ID.
	PayoutDestination(ctx context.Context, accountID string) (string, error)
	// CustomerID returns the client's gateway customer ID (may be empty).
	CustomerID(ctx context.Context, accountID string) (string, error)
}

// FeeCalculator computes the breakdown at transaction creation.
type FeeCalculator interface {
	Calculate(ctx context.Context, amount int64) (*fees.Breakdown, error)
}

// HoldPolicy supplies the escrow hold duration from live settings.
type HoldPolicy interface {
	EscrowHoldDays(ctx context.Context) int
}

// EventPublisher delivers platform events so transactions doesn't import notify.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{})
}

// CreateRequest contains the parameters for funding a contract payment.
// With a milestone, the amount is taken from the milestone (a supplied
// amount must match it). Without one, the amount is required.
type CreateRequest struct {
	ContractID  string `json:"contractId" binding:"required"`
	MilestoneID string `json:"milestoneId"`
	Amount      int64  `json:"amount"`
}

// RefundRequest contains the parameters for refunding a payment.
type RefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PaymentIntentResponse is returned from CreatePaymentIntent.
type PaymentIntentResponse struct {
	Transaction  *Transaction `json:"transaction"`
	ClientSecret string       `json:"clientSecret"`
}
