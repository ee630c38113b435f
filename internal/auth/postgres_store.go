package auth

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists API keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed key store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, account_id, role, name, created_at, last_used, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.Hash, key.AccountID, key.Role, key.Name,
		key.CreatedAt, nullZeroTime(key.LastUsed), nullTimePtr(key.ExpiresAt), key.Revoked,
	)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, hash, account_id, role, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE hash = $1`, hash)

	key, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	return key, err
}

func (p *PostgresStore) GetByAccount(ctx context.Context, accountID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, account_id, role, name, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, key)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1, expires_at = $2, revoked = $3 WHERE id = $4`,
		nullZeroTime(key.LastUsed), nullTimePtr(key.ExpiresAt), key.Revoked, key.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(s scanner) (*APIKey, error) {
	key := &APIKey{}
	var (
		lastUsed  sql.NullTime
		expiresAt sql.NullTime
	)

	err := s.Scan(
		&key.ID, &key.Hash, &key.AccountID, &key.Role, &key.Name,
		&key.CreatedAt, &lastUsed, &expiresAt, &key.Revoked,
	)
	if err != nil {
		return nil, err
	}

	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	return key, nil
}

func nullZeroTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
