package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/workpay/internal/fees"
	"github.com/mbd888/workpay/internal/idgen"
	"github.com/mbd888/workpay/internal/metrics"
	"github.com/mbd888/workpay/internal/traces"
)

// DefaultRefundWindow is how long after creation a payment stays refundable.
const DefaultRefundWindow = 30 * 24 * time.Hour

// DefaultEscrowHoldDays is the hold period when settings are unavailable.
const DefaultEscrowHoldDays = 7

// Service implements the escrow transaction lifecycle.
type Service struct {
	store        Store
	gateway      Gateway
	contracts    ContractService
	accounts     AccountDirectory
	calculator   FeeCalculator
	holdPolicy   HoldPolicy
	events       EventPublisher
	logger       *slog.Logger
	refundWindow time.Duration
	locks        sync.Map // per-transaction ID locks to prevent race conditions
}

// NewService creates a transaction service.
func NewService(store Store, gateway Gateway, contracts ContractService, accounts AccountDirectory, calculator FeeCalculator, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		gateway:      gateway,
		contracts:    contracts,
		accounts:     accounts,
		calculator:   calculator,
		logger:       logger,
		refundWindow: DefaultRefundWindow,
	}
}

// WithHoldPolicy sets the source of the escrow hold duration.
func (s *Service) WithHoldPolicy(p HoldPolicy) *Service {
	s.holdPolicy = p
	return s
}

// WithEvents adds an event publisher for payment notifications.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// WithRefundWindow overrides the refund window.
func (s *Service) WithRefundWindow(d time.Duration) *Service {
	if d > 0 {
		s.refundWindow = d
	}
	return s
}

// txnLock returns a mutex for the given transaction ID.
// This prevents concurrent state transitions (e.g. release + refund racing).
func (s *Service) txnLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) holdDays(ctx context.Context) int {
	if s.holdPolicy != nil {
		if d := s.holdPolicy.EscrowHoldDays(ctx); d >= 0 {
			return d
		}
	}
	return DefaultEscrowHoldDays
}

// EstimateFees returns the fee breakdown for an amount without creating
// anything. Pure passthrough to the calculator.
func (s *Service) EstimateFees(ctx context.Context, amount int64) (*fees.Breakdown, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.calculator.Calculate(ctx, amount)
}

// CreatePaymentIntent funds a contract payment, usually for an approved
// milestone: it fixes the fee breakdown, persists the transaction, and
// places a manual-capture hold with the gateway. The idempotency key is
// derived from the transaction ID so a retried gateway call can never
// double-charge.
func (s *Service) CreatePaymentIntent(ctx context.Context, callerID string, req CreateRequest) (*PaymentIntentResponse, error) {
	ctx, span := traces.Start(ctx, "transactions.CreatePaymentIntent")
	defer span.End()

	var (
		clientID, freelancerID, currency string
		amount                           int64
		err                              error
	)
	if req.MilestoneID != "" {
		clientID, freelancerID, amount, currency, err = s.contracts.ApprovedMilestone(ctx, req.ContractID, req.MilestoneID)
		if err != nil {
			return nil, err
		}
		if req.Amount != 0 && req.Amount != amount {
			return nil, fmt.Errorf("%w: requested amount %d does not match milestone amount %d",
				ErrInvalidAmount, req.Amount, amount)
		}
	} else {
		clientID, freelancerID, currency, err = s.contracts.ActiveContract(ctx, req.ContractID)
		if err != nil {
			return nil, err
		}
		amount = req.Amount
	}
	if callerID != clientID {
		return nil, ErrUnauthorized
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	breakdown, err := s.calculator.Calculate(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("fee calculation failed: %w", err)
	}
	if !strings.EqualFold(currency, breakdown.Currency) {
		return nil, fmt.Errorf("%w: contract currency %s does not match platform currency %s",
			ErrInvalidAmount, currency, breakdown.Currency)
	}

	now := time.Now()
	txn := &Transaction{
		ID:               idgen.WithPrefix(idgen.PrefixTransaction),
		ContractID:       req.ContractID,
		MilestoneID:      req.MilestoneID,
		ClientID:         clientID,
		FreelancerID:     freelancerID,
		Amount:           breakdown.Amount,
		Commission:       breakdown.Commission,
		ProcessingFee:    breakdown.ProcessingFee,
		Tax:              breakdown.Tax,
		FreelancerAmount: breakdown.FreelancerAmount,
		Currency:         breakdown.Currency,
		Status:           StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	span.SetAttributes(traces.TransactionID(txn.ID), traces.ContractID(txn.ContractID), traces.Amount(txn.Amount))

	if err := s.store.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	customerID, err := s.accounts.CustomerID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}

	intentID, clientSecret, err := s.gateway.CreateHold(ctx, txn.Amount, txn.Currency, customerID, "hold_"+txn.ID)
	if err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("create_hold", "error").Inc()
		// The record stays pending; a retry reuses the same idempotency key.
		return nil, fmt.Errorf("gateway hold failed: %w", err)
	}
	metrics.GatewayCallsTotal.WithLabelValues("create_hold", "ok").Inc()

	txn.PaymentIntentID = intentID
	txn.Status = StatusProcessing
	txn.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to record gateway hold: %w", err)
	}

	if req.MilestoneID != "" {
		if err := s.contracts.AttachTransaction(ctx, req.ContractID, req.MilestoneID, txn.ID); err != nil {
			s.logger.Warn("failed to attach transaction to milestone",
				"transactionId", txn.ID, "milestoneId", req.MilestoneID, "error", err)
		}
	}

	return &PaymentIntentResponse{Transaction: txn, ClientSecret: clientSecret}, nil
}

// ConfirmPayment captures the held charge after the gateway reports the
// client's payment succeeded. Driven by the gateway webhook.
func (s *Service) ConfirmPayment(ctx context.Context, paymentIntentID string) (*Transaction, error) {
	ctx, span := traces.Start(ctx, "transactions.ConfirmPayment")
	defer span.End()

	txn, err := s.store.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	mu := s.txnLock(txn.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under lock to prevent stale-state races
	txn, err = s.store.Get(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TransactionID(txn.ID), traces.Amount(txn.Amount))

	if txn.Status == StatusHeldInEscrow {
		// Webhooks redeliver; confirming twice is a no-op.
		return txn, nil
	}
	if !canTransition(txn.Status, StatusHeldInEscrow) {
		return nil, ErrInvalidStatus
	}

	if err := s.gateway.Capture(ctx, paymentIntentID); err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("capture", "error").Inc()
		return nil, fmt.Errorf("gateway capture failed: %w", err)
	}
	metrics.GatewayCallsTotal.WithLabelValues("capture", "ok").Inc()

	now := time.Now()
	releaseAt := now.Add(time.Duration(s.holdDays(ctx)) * 24 * time.Hour)
	txn.Status = StatusHeldInEscrow
	txn.EscrowReleaseAt = &releaseAt
	txn.UpdatedAt = now

	if err := s.store.Update(ctx, txn); err != nil {
		// Retry once. Funds were captured; the state change must persist.
		if retryErr := s.store.Update(ctx, txn); retryErr != nil {
			// CRITICAL: funds captured but the record still shows processing.
			// Log for manual resolution rather than guessing a compensation.
			s.logger.Error("CRITICAL: funds captured but status update failed",
				"transactionId", txn.ID, "paymentIntentId", paymentIntentID, "error", retryErr)
			return nil, fmt.Errorf("failed to update transaction after capture (requires manual resolution): %w", err)
		}
	}

	metrics.TransactionsTotal.WithLabelValues(string(StatusHeldInEscrow)).Inc()
	metrics.EscrowHeldAmount.Add(float64(txn.Amount))
	metrics.CommissionCollectedTotal.Add(float64(txn.Commission))

	if s.events != nil {
		s.events.Publish(ctx, "payment.received", map[string]interface{}{
			"transactionId": txn.ID,
			"contractId":    txn.ContractID,
			"milestoneId":   txn.MilestoneID,
			"freelancerId":  txn.FreelancerID,
			"amount":        txn.Amount,
			"currency":      txn.Currency,
		})
	}
	return txn, nil
}

// ConfirmPaymentBy is the client-facing confirm path. Only the paying
// client (or an admin) may trigger capture; the gateway webhook uses
// ConfirmPayment directly since the signature authenticates it.
func (s *Service) ConfirmPaymentBy(ctx context.Context, paymentIntentID, callerID string, isAdmin bool) (*Transaction, error) {
	txn, err := s.store.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && txn.ClientID != callerID {
		return nil, ErrUnauthorized
	}
	return s.ConfirmPayment(ctx, paymentIntentID)
}

// MarkFailed records a gateway failure. Driven by the gateway webhook.
func (s *Service) MarkFailed(ctx context.Context, paymentIntentID, reason string) (*Transaction, error) {
	txn, err := s.store.GetByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	mu := s.txnLock(txn.ID)
	mu.Lock()
	defer mu.Unlock()

	txn, err = s.store.Get(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if txn.Status == StatusFailed {
		return txn, nil
	}
	if !canTransition(txn.Status, StatusFailed) {
		return nil, ErrInvalidStatus
	}

	txn.Status = StatusFailed
	txn.FailureReason = reason
	txn.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, txn); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(StatusFailed)).Inc()
	return txn, nil
}

// ReleaseEscrow transfers the freelancer's share out of escrow. Client or
// admin only; releasing twice returns ErrInvalidStatus, never a second
// transfer.
func (s *Service) ReleaseEscrow(ctx context.Context, id, callerID string, isAdmin bool) (*Transaction, error) {
	ctx, span := traces.Start(ctx, "transactions.ReleaseEscrow")
	defer span.End()

	mu := s.txnLock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TransactionID(txn.ID), traces.Amount(txn.FreelancerAmount))

	if !isAdmin && callerID != txn.ClientID {
		return nil, ErrUnauthorized
	}
	if txn.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if txn.Status != StatusHeldInEscrow {
		return nil, ErrInvalidStatus
	}

	destination, err := s.accounts.PayoutDestination(ctx, txn.FreelancerID)
	if err != nil {
		return nil, err
	}
	if destination == "" {
		return nil, ErrNoPayoutDestination
	}

	transferID, err := s.gateway.Transfer(ctx, destination, txn.FreelancerAmount, txn.Currency, "rel_"+txn.ID)
	if err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("transfer", "error").Inc()
		return nil, fmt.Errorf("gateway transfer failed: %w", err)
	}
	metrics.GatewayCallsTotal.WithLabelValues("transfer", "ok").Inc()

	now := time.Now()
	txn.Status = StatusReleased
	txn.TransferID = transferID
	txn.ReleasedAt = &now
	txn.UpdatedAt = now

	if err := s.store.Update(ctx, txn); err != nil {
		// Retry once. Funds moved to the freelancer; the record must follow.
		if retryErr := s.store.Update(ctx, txn); retryErr != nil {
			// CRITICAL: transfer sent but the record still shows escrow.
			// A transfer has no safe inverse; log for manual resolution.
			s.logger.Error("CRITICAL: escrow transferred but status update failed",
				"transactionId", txn.ID, "transferId", transferID, "error", retryErr)
			return nil, fmt.Errorf("failed to update transaction after transfer (requires manual resolution): %w", err)
		}
	}

	metrics.TransactionsTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.EscrowReleasedTotal.Inc()
	metrics.EscrowHeldAmount.Sub(float64(txn.Amount))
	metrics.EscrowDuration.Observe(now.Sub(txn.CreatedAt).Seconds())

	if txn.MilestoneID != "" {
		if err := s.contracts.MarkMilestonePaid(ctx, txn.ContractID, txn.MilestoneID, txn.ID); err != nil {
			s.logger.Warn("escrow released but milestone not marked paid",
				"transactionId", txn.ID, "milestoneId", txn.MilestoneID, "error", err)
		}
	}

	if s.events != nil {
		s.events.Publish(ctx, "escrow.released", map[string]interface{}{
			"transactionId": txn.ID,
			"contractId":    txn.ContractID,
			"milestoneId":   txn.MilestoneID,
			"freelancerId":  txn.FreelancerID,
			"amount":        txn.FreelancerAmount,
			"currency":      txn.Currency,
		})
	}
	return txn, nil
}

// RefundPayment returns the full charge to the client. Allowed from
// held_in_escrow or released, within the refund window from creation.
func (s *Service) RefundPayment(ctx context.Context, id, callerID string, isAdmin bool, reason string) (*Transaction, error) {
	ctx, span := traces.Start(ctx, "transactions.RefundPayment")
	defer span.End()

	mu := s.txnLock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TransactionID(txn.ID), traces.Amount(txn.Amount))

	if !isAdmin && callerID != txn.ClientID {
		return nil, ErrUnauthorized
	}
	if txn.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if !canTransition(txn.Status, StatusRefunded) {
		return nil, ErrInvalidStatus
	}
	if time.Since(txn.CreatedAt) > s.refundWindow {
		return nil, ErrRefundWindowClosed
	}

	refundID, err := s.gateway.Refund(ctx, txn.PaymentIntentID, "ref_"+txn.ID)
	if err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("refund", "error").Inc()
		return nil, fmt.Errorf("gateway refund failed: %w", err)
	}
	metrics.GatewayCallsTotal.WithLabelValues("refund", "ok").Inc()

	wasHeld := txn.Status == StatusHeldInEscrow
	now := time.Now()
	txn.Status = StatusRefunded
	txn.RefundID = refundID
	txn.RefundReason = reason
	txn.RefundedAt = &now
	txn.UpdatedAt = now

	if err := s.store.Update(ctx, txn); err != nil {
		if retryErr := s.store.Update(ctx, txn); retryErr != nil {
			// CRITICAL: refund issued but the record still shows held/released.
			s.logger.Error("CRITICAL: refund issued but status update failed",
				"transactionId", txn.ID, "refundId", refundID, "error", retryErr)
			return nil, fmt.Errorf("failed to update transaction after refund (requires manual resolution): %w", err)
		}
	}

	metrics.TransactionsTotal.WithLabelValues(string(StatusRefunded)).Inc()
	metrics.EscrowRefundedTotal.Inc()
	if wasHeld {
		metrics.EscrowHeldAmount.Sub(float64(txn.Amount))
	}
	metrics.EscrowDuration.Observe(now.Sub(txn.CreatedAt).Seconds())

	if s.events != nil {
		s.events.Publish(ctx, "payment.refunded", map[string]interface{}{
			"transactionId": txn.ID,
			"contractId":    txn.ContractID,
			"clientId":      txn.ClientID,
			"amount":        txn.Amount,
			"currency":      txn.Currency,
			"reason":        reason,
		})
	}
	return txn, nil
}

// CancelPayment abandons a payment before funds are held.
func (s *Service) CancelPayment(ctx context.Context, id, callerID string, isAdmin bool) (*Transaction, error) {
	mu := s.txnLock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && callerID != txn.ClientID {
		return nil, ErrUnauthorized
	}
	if txn.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if !canTransition(txn.Status, StatusCancelled) {
		return nil, ErrInvalidStatus
	}

	if txn.PaymentIntentID != "" {
		if err := s.gateway.CancelHold(ctx, txn.PaymentIntentID); err != nil {
			metrics.GatewayCallsTotal.WithLabelValues("cancel_hold", "error").Inc()
			return nil, fmt.Errorf("gateway cancel failed: %w", err)
		}
		metrics.GatewayCallsTotal.WithLabelValues("cancel_hold", "ok").Inc()
	}

	txn.Status = StatusCancelled
	txn.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, txn); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	return txn, nil
}

// MarkPaidOut records payout-batch settlement for a released transaction.
func (s *Service) MarkPaidOut(ctx context.Context, id string) (*Transaction, error) {
	mu := s.txnLock(id)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == StatusPaidOut {
		return txn, nil
	}
	if !canTransition(txn.Status, StatusPaidOut) {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	txn.Status = StatusPaidOut
	txn.PaidOutAt = &now
	txn.UpdatedAt = now

	if err := s.store.Update(ctx, txn); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(StatusPaidOut)).Inc()
	return txn, nil
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// History returns an account's transactions, newest first, cursor-paginated.
func (s *Service) History(ctx context.Context, accountID string, status Status, before time.Time, beforeID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if before.IsZero() {
		before = time.Now().Add(time.Hour)
	}
	return s.store.ListByAccount(ctx, accountID, status, before, beforeID, limit)
}

// autoRelease is invoked by the hold timer for transactions past their
// escrow release time.
func (s *Service) autoRelease(ctx context.Context, txn *Transaction) error {
	_, err := s.ReleaseEscrow(ctx, txn.ID, "", true)
	if err == nil {
		metrics.EscrowAutoReleasedTotal.Inc()
	}
	return err
}
