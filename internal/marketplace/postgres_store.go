package marketplace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed marketplace store. Proposal
// milestones are stored as JSONB; they are only read back as a unit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a marketplace store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const projectColumns = `id, client_id, title, description, budget, currency, status, created_at, updated_at`

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.ClientID, p.Title, p.Description, p.Budget, p.Currency, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *Project) error {
	query := `
		UPDATE projects
		SET title = $1, description = $2, budget = $3, status = $4, updated_at = $5
		WHERE id = $6`

	result, err := s.db.ExecContext(ctx, query,
		p.Title, p.Description, p.Budget, p.Status, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, status ProjectStatus, clientID string, limit, offset int) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	var args []interface{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if clientID != "" {
		args = append(args, clientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var result []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const proposalColumns = `id, project_id, freelancer_id, cover_letter, amount, milestones, status, contract_id, created_at, updated_at`

func (s *PostgresStore) CreateProposal(ctx context.Context, p *Proposal) error {
	milestones, err := json.Marshal(p.Milestones)
	if err != nil {
		return fmt.Errorf("failed to encode milestones: %w", err)
	}
	query := `
		INSERT INTO proposals (` + proposalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.ProjectID, p.FreelancerID, p.CoverLetter, p.Amount, milestones,
		p.Status, propNullString(p.ContractID), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	return scanProposal(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, p *Proposal) error {
	query := `
		UPDATE proposals
		SET status = $1, contract_id = $2, updated_at = $3
		WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query,
		p.Status, propNullString(p.ContractID), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update proposal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProposalNotFound
	}
	return nil
}

func (s *PostgresStore) ListProposalsByProject(ctx context.Context, projectID string) ([]*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE project_id = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

func (s *PostgresStore) ListProposalsByFreelancer(ctx context.Context, freelancerID string, limit, offset int) ([]*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE freelancer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, freelancerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

type projectScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row projectScanner) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.ClientID, &p.Title, &p.Description, &p.Budget,
		&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

func scanProposal(row projectScanner) (*Proposal, error) {
	var p Proposal
	var milestones []byte
	var contractID sql.NullString

	err := row.Scan(&p.ID, &p.ProjectID, &p.FreelancerID, &p.CoverLetter, &p.Amount,
		&milestones, &p.Status, &contractID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan proposal: %w", err)
	}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &p.Milestones); err != nil {
			return nil, fmt.Errorf("failed to decode milestones: %w", err)
		}
	}
	p.ContractID = contractID.String
	return &p, nil
}

func scanProposals(rows *sql.Rows) ([]*Proposal, error) {
	var result []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func propNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
