package settings

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists settings versions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settings store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const settingsColumns = `id, version, commission_rate_bps, min_commission, max_commission,
		processing_fee_bps, tax_rate_bps, currency, escrow_hold_days,
		withdrawal_min_amount, withdrawal_fee, tiers, updated_by, created_at`

func (p *PostgresStore) Current(ctx context.Context) (*Settings, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+settingsColumns+`
		FROM platform_settings
		ORDER BY version DESC
		LIMIT 1`)

	s, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	return s, err
}

func (p *PostgresStore) Append(ctx context.Context, s *Settings) error {
	tiersJSON, _ := json.Marshal(s.Tiers)
	if s.Tiers == nil {
		tiersJSON = []byte("[]")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO platform_settings (
			id, version, commission_rate_bps, min_commission, max_commission,
			processing_fee_bps, tax_rate_bps, currency, escrow_hold_days,
			withdrawal_min_amount, withdrawal_fee, tiers, updated_by, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		s.ID, s.Version, s.CommissionRateBps, s.MinCommission, s.MaxCommission,
		s.ProcessingFeeBps, s.TaxRateBps, s.Currency, s.EscrowHoldDays,
		s.WithdrawalMinAmount, s.WithdrawalFee, tiersJSON,
		nullString(s.UpdatedBy), s.CreatedAt,
	)
	return err
}

func (p *PostgresStore) History(ctx context.Context, limit, offset int) ([]*Settings, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+settingsColumns+`
		FROM platform_settings
		ORDER BY version DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Settings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSettings(sc scanner) (*Settings, error) {
	s := &Settings{}
	var (
		tiersJSON []byte
		updatedBy sql.NullString
	)

	err := sc.Scan(
		&s.ID, &s.Version, &s.CommissionRateBps, &s.MinCommission, &s.MaxCommission,
		&s.ProcessingFeeBps, &s.TaxRateBps, &s.Currency, &s.EscrowHoldDays,
		&s.WithdrawalMinAmount, &s.WithdrawalFee, &tiersJSON, &updatedBy, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.UpdatedBy = updatedBy.String
	if len(tiersJSON) > 0 {
		_ = json.Unmarshal(tiersJSON, &s.Tiers)
	}
	return s, nil
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
