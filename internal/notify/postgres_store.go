package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is a PostgreSQL-backed subscription store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a subscription store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const subscriptionColumns = `id, account_id, url, secret, events, active, created_at, last_success, last_error, failure_count`

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO notify_subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.AccountID, sub.URL, sub.Secret, pq.Array(eventStrings(sub.Events)),
		sub.Active, sub.CreatedAt, sub.LastSuccess, nullErrString(sub.LastError), sub.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM notify_subscriptions WHERE id = $1`
	return scanSubscription(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByAccount(ctx context.Context, accountID string) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM notify_subscriptions
		WHERE account_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PostgresStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM notify_subscriptions
		WHERE $1 = ANY(events) AND active = true`

	rows, err := s.db.QueryContext(ctx, query, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	query := `
		UPDATE notify_subscriptions
		SET url = $1, events = $2, active = $3, last_success = $4, last_error = $5, failure_count = $6
		WHERE id = $7`

	result, err := s.db.ExecContext(ctx, query,
		sub.URL, pq.Array(eventStrings(sub.Events)), sub.Active,
		sub.LastSuccess, nullErrString(sub.LastError), sub.FailureCount, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notify_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var sub Subscription
	var events pq.StringArray
	var lastSuccess sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.URL, &sub.Secret, &events,
		&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError, &sub.FailureCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	sub.Events = make([]EventType, len(events))
	for i, e := range events {
		sub.Events[i] = EventType(e)
	}
	if lastSuccess.Valid {
		v := lastSuccess.Time
		sub.LastSuccess = &v
	}
	sub.LastError = lastError.String
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func eventStrings(events []EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func nullErrString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
