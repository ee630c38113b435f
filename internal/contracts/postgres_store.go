package contracts

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists contracts and milestones in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed contract store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const contractColumns = `id, project_id, proposal_id, client_id, freelancer_id, title, description,
		total_amount, currency, status, client_signed_at, freelancer_signed_at,
		dispute_reason, disputed_by, cancelled_by, cancel_reason, resolved_at,
		created_at, updated_at`

const milestoneColumns = `id, contract_id, position, title, description, amount, status,
		deliverable_url, submitted_note, rejection_reason, transaction_id,
		submitted_at, approved_at, paid_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, c *Contract) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contracts (
			id, project_id, proposal_id, client_id, freelancer_id, title, description,
			total_amount, currency, status, client_signed_at, freelancer_signed_at,
			dispute_reason, disputed_by, cancelled_by, cancel_reason, resolved_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19
		)`,
		c.ID, nullString(c.ProjectID), nullString(c.ProposalID),
		c.ClientID, c.FreelancerID, c.Title, nullString(c.Description),
		c.TotalAmount, c.Currency, string(c.Status),
		nullTime(c.ClientSignedAt), nullTime(c.FreelancerSignedAt),
		nullString(c.DisputeReason), nullString(c.DisputedBy),
		nullString(c.CancelledBy), nullString(c.CancelReason),
		nullTime(c.ResolvedAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}

	for i := range c.Milestones {
		if err := insertMilestone(ctx, tx, &c.Milestones[i]); err != nil {
			return fmt.Errorf("insert milestone %s: %w", c.Milestones[i].ID, err)
		}
	}

	return tx.Commit()
}

func insertMilestone(ctx context.Context, tx *sql.Tx, m *Milestone) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO milestones (
			id, contract_id, position, title, description, amount, status,
			deliverable_url, submitted_note, rejection_reason, transaction_id,
			submitted_at, approved_at, paid_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		m.ID, m.ContractID, m.Position, m.Title, nullString(m.Description),
		m.Amount, string(m.Status),
		nullString(m.DeliverableURL), nullString(m.SubmittedNote),
		nullString(m.RejectionReason), nullString(m.TransactionID),
		nullTime(m.SubmittedAt), nullTime(m.ApprovedAt), nullTime(m.PaidAt),
		m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Contract, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestones
		WHERE contract_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		c.Milestones = append(c.Milestones, *m)
	}
	return c, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, c *Contract) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE contracts SET
			status = $1, client_signed_at = $2, freelancer_signed_at = $3,
			dispute_reason = $4, disputed_by = $5, cancelled_by = $6,
			cancel_reason = $7, resolved_at = $8, updated_at = $9
		WHERE id = $10`,
		string(c.Status), nullTime(c.ClientSignedAt), nullTime(c.FreelancerSignedAt),
		nullString(c.DisputeReason), nullString(c.DisputedBy), nullString(c.CancelledBy),
		nullString(c.CancelReason), nullTime(c.ResolvedAt), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrContractNotFound
	}

	for i := range c.Milestones {
		m := &c.Milestones[i]
		_, err := tx.ExecContext(ctx, `
			UPDATE milestones SET
				status = $1, deliverable_url = $2, submitted_note = $3,
				rejection_reason = $4, transaction_id = $5,
				submitted_at = $6, approved_at = $7, paid_at = $8, updated_at = $9
			WHERE id = $10`,
			string(m.Status), nullString(m.DeliverableURL), nullString(m.SubmittedNote),
			nullString(m.RejectionReason), nullString(m.TransactionID),
			nullTime(m.SubmittedAt), nullTime(m.ApprovedAt), nullTime(m.PaidAt),
			m.UpdatedAt, m.ID,
		)
		if err != nil {
			return fmt.Errorf("update milestone %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, status Status, limit, offset int) ([]*Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE (client_id = $1 OR freelancer_id = $1)`
	args := []interface{}{accountID}
	if status != "" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, string(status), limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach milestones per contract. Listing is a low-volume admin/dashboard
	// path; N+1 here keeps the scan logic in one place.
	for _, c := range result {
		full, err := p.Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Milestones = full.Milestones
	}
	return result, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(s scanner) (*Contract, error) {
	c := &Contract{}
	var (
		projectID          sql.NullString
		proposalID         sql.NullString
		description        sql.NullString
		status             string
		clientSignedAt     sql.NullTime
		freelancerSignedAt sql.NullTime
		disputeReason      sql.NullString
		disputedBy         sql.NullString
		cancelledBy        sql.NullString
		cancelReason       sql.NullString
		resolvedAt         sql.NullTime
	)

	err := s.Scan(
		&c.ID, &projectID, &proposalID, &c.ClientID, &c.FreelancerID, &c.Title, &description,
		&c.TotalAmount, &c.Currency, &status,
		&clientSignedAt, &freelancerSignedAt, &disputeReason, &disputedBy,
		&cancelledBy, &cancelReason, &resolvedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ProjectID = projectID.String
	c.ProposalID = proposalID.String
	c.Description = description.String
	c.Status = Status(status)
	c.DisputeReason = disputeReason.String
	c.DisputedBy = disputedBy.String
	c.CancelledBy = cancelledBy.String
	c.CancelReason = cancelReason.String
	if clientSignedAt.Valid {
		c.ClientSignedAt = &clientSignedAt.Time
	}
	if freelancerSignedAt.Valid {
		c.FreelancerSignedAt = &freelancerSignedAt.Time
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return c, nil
}

func scanMilestone(s scanner) (*Milestone, error) {
	m := &Milestone{}
	var (
		description     sql.NullString
		status          string
		deliverableURL  sql.NullString
		submittedNote   sql.NullString
		rejectionReason sql.NullString
		transactionID   sql.NullString
		submittedAt     sql.NullTime
		approvedAt      sql.NullTime
		paidAt          sql.NullTime
	)

	err := s.Scan(
		&m.ID, &m.ContractID, &m.Position, &m.Title, &description,
		&m.Amount, &status,
		&deliverableURL, &submittedNote, &rejectionReason, &transactionID,
		&submittedAt, &approvedAt, &paidAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Description = description.String
	m.Status = MilestoneStatus(status)
	m.DeliverableURL = deliverableURL.String
	m.SubmittedNote = submittedNote.String
	m.RejectionReason = rejectionReason.String
	m.TransactionID = transactionID.String
	if submittedAt.Valid {
		m.SubmittedAt = &submittedAt.Time
	}
	if approvedAt.Valid {
		m.ApprovedAt = &approvedAt.Time
	}
	if paidAt.Valid {
		m.PaidAt = &paidAt.Time
	}
	return m, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
