package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a transaction store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const transactionColumns = `id, contract_id, milestone_id, client_id, freelancer_id,
	amount, commission, processing_fee, tax, freelancer_amount, currency, status,
	payment_intent_id, transfer_id, refund_id,
	escrow_release_at, released_at, refunded_at, paid_out_at,
	failure_reason, refund_reason, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.ContractID, nullString(t.MilestoneID), t.ClientID, t.FreelancerID,
		t.Amount, t.Commission, t.ProcessingFee, t.Tax, t.FreelancerAmount, t.Currency, t.Status,
		nullString(t.PaymentIntentID), nullString(t.TransferID), nullString(t.RefundID),
		nullTimePtr(t.EscrowReleaseAt), nullTimePtr(t.ReleasedAt), nullTimePtr(t.RefundedAt), nullTimePtr(t.PaidOutAt),
		nullString(t.FailureReason), nullString(t.RefundReason), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByPaymentIntent(ctx context.Context, intentID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE payment_intent_id = $1`
	return scanTransaction(s.db.QueryRowContext(ctx, query, intentID))
}

// Update persists a transaction guarded by optimistic locking: the row's
// version must match, and is incremented on success.
func (s *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, payment_intent_id = $2, transfer_id = $3, refund_id = $4,
			escrow_release_at = $5, released_at = $6, refunded_at = $7, paid_out_at = $8,
			failure_reason = $9, refund_reason = $10, version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`

	result, err := s.db.ExecContext(ctx, query,
		t.Status, nullString(t.PaymentIntentID), nullString(t.TransferID), nullString(t.RefundID),
		nullTimePtr(t.EscrowReleaseAt), nullTimePtr(t.ReleasedAt), nullTimePtr(t.RefundedAt), nullTimePtr(t.PaidOutAt),
		nullString(t.FailureReason), nullString(t.RefundReason), t.UpdatedAt,
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a concurrent modification.
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, t.ID).Scan(&exists)
		if checkErr == nil && exists {
			return ErrStaleVersion
		}
		return ErrTransactionNotFound
	}
	t.Version++
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, status Status, before time.Time, beforeID string, limit int) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE (client_id = $1 OR freelancer_id = $1)`
	args := []interface{}{accountID}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !before.IsZero() {
		args = append(args, before)
		n := len(args)
		if beforeID != "" {
			args = append(args, beforeID)
			query += fmt.Sprintf(" AND (created_at < $%d OR (created_at = $%d AND id < $%d))", n, n, len(args))
		} else {
			query += fmt.Sprintf(" AND created_at < $%d", n)
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = $1 AND escrow_release_at IS NOT NULL AND escrow_release_at <= $2
		ORDER BY escrow_release_at ASC LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, StatusHeldInEscrow, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list releasable transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var t Transaction
	var milestoneID, intentID, transferID, refundID, failureReason, refundReason sql.NullString
	var escrowReleaseAt, releasedAt, refundedAt, paidOutAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.ContractID, &milestoneID, &t.ClientID, &t.FreelancerID,
		&t.Amount, &t.Commission, &t.ProcessingFee, &t.Tax, &t.FreelancerAmount, &t.Currency, &t.Status,
		&intentID, &transferID, &refundID,
		&escrowReleaseAt, &releasedAt, &refundedAt, &paidOutAt,
		&failureReason, &refundReason, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	t.MilestoneID = milestoneID.String
	t.PaymentIntentID = intentID.String
	t.TransferID = transferID.String
	t.RefundID = refundID.String
	t.FailureReason = failureReason.String
	t.RefundReason = refundReason.String
	t.EscrowReleaseAt = timePtr(escrowReleaseAt)
	t.ReleasedAt = timePtr(releasedAt)
	t.RefundedAt = timePtr(refundedAt)
	t.PaidOutAt = timePtr(paidOutAt)
	return &t, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
