package accounts

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, email, name, role, stripe_customer_id, stripe_account_id,
		active, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, name, role, stripe_customer_id, stripe_account_id,
			active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Email, a.Name, string(a.Role),
		nullString(a.StripeCustomerID), nullString(a.StripeAccountID),
		a.Active, a.CreatedAt, a.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrEmailExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) Update(ctx context.Context, a *Account) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			name = $1, stripe_customer_id = $2, stripe_account_id = $3,
			active = $4, updated_at = $5
		WHERE id = $6`,
		a.Name, nullString(a.StripeCustomerID), nullString(a.StripeAccountID),
		a.Active, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, role Role, limit, offset int) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	args := []interface{}{}
	if role != "" {
		query += ` WHERE role = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, string(role), limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*Account, error) {
	a := &Account{}
	var (
		role       string
		customerID sql.NullString
		accountID  sql.NullString
	)

	err := s.Scan(
		&a.ID, &a.Email, &a.Name, &role, &customerID, &accountID,
		&a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Role = Role(role)
	a.StripeCustomerID = customerID.String
	a.StripeAccountID = accountID.String
	return a, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
