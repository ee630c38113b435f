package transactions

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/workpay/internal/retry"
)

// HoldTimer periodically releases escrow for transactions whose hold
// period has elapsed.
type HoldTimer struct {
	service  *Service
	interval time.Duration
	batch    int
	logger   *slog.Logger
	running  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHoldTimer creates an auto-release timer. Interval defaults to one
// minute, batch to 50.
func NewHoldTimer(service *Service, interval time.Duration, logger *slog.Logger) *HoldTimer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HoldTimer{
		service:  service,
		interval: interval,
		batch:    50,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the timer loop. Safe to call once.
func (t *HoldTimer) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	go t.run(ctx)
}

// Stop halts the timer and waits for the current sweep to finish.
func (t *HoldTimer) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	close(t.stopCh)
	<-t.doneCh
}

func (t *HoldTimer) run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("escrow hold timer started", "interval", t.interval)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("escrow hold timer stopped", "reason", "context cancelled")
			return
		case <-t.stopCh:
			t.logger.Info("escrow hold timer stopped")
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep releases every transaction past its hold deadline. A panic in one
// sweep must not kill the timer loop.
func (t *HoldTimer) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow sweep", "panic", r)
		}
	}()

	due, err := t.service.store.ListReleasable(ctx, time.Now(), t.batch)
	if err != nil {
		t.logger.Error("failed to list releasable transactions", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	t.logger.Info("auto-releasing held escrow", "count", len(due))

	for _, txn := range due {
		txn := txn
		err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
			releaseErr := t.service.autoRelease(ctx, txn)
			if errors.Is(releaseErr, ErrInvalidStatus) || errors.Is(releaseErr, ErrAlreadyResolved) {
				// Released or refunded since the listing; nothing to do.
				return nil
			}
			if errors.Is(releaseErr, ErrNoPayoutDestination) {
				// Retrying won't connect an account; pick it up next sweep.
				return retry.Permanent(releaseErr)
			}
			return releaseErr
		})
		if err != nil {
			t.logger.Error("auto-release failed",
				"transactionId", txn.ID, "freelancerId", txn.FreelancerID, "error", err)
			continue
		}
	}
}
