package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dockethq/docket/internal/membership"
)

// Store provides database operations for tenancy entities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new tenant store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Organisations ---

// CreateOrganisationTx inserts an organisation inside a caller-owned
// transaction, so creation can be atomic with the owner membership grant.
func (s *Store) CreateOrganisationTx(ctx context.Context, tx pgx.Tx, name string) (*Organisation, error) {
	return createOrganisation(ctx, tx, name)
}

func createOrganisation(ctx context.Context, q rowQuerier, name string) (*Organisation, error) {
	o := &Organisation{}
	err := q.QueryRow(ctx,
		`INSERT INTO organisations (name) VALUES ($1) RETURNING id, name, created_at`,
		name,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating organisation: %w", err)
	}
	return o, nil
}

// GetOrganisation retrieves an organisation by id.
func (s *Store) GetOrganisation(ctx context.Context, id string) (*Organisation, error) {
	o := &Organisation{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM organisations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting organisation: %w", err)
	}
	return o, nil
}

// ListOrganisationsByIDs returns the organisations with the given ids,
// newest first.
func (s *Store) ListOrganisationsByIDs(ctx context.Context, ids []string) ([]*Organisation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM organisations WHERE id = ANY($1) ORDER BY created_at DESC`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("listing organisations: %w", err)
	}
	defer rows.Close()

	var out []*Organisation
	for rows.Next() {
		o := &Organisation{}
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning organisation row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteOrganisationTx removes an organisation inside a caller-owned
// transaction. Teams, cases and clients cascade at the schema level.
func (s *Store) DeleteOrganisationTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM organisations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting organisation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Teams ---

// CreateTeamTx inserts a team inside a caller-owned transaction.
func (s *Store) CreateTeamTx(ctx context.Context, tx pgx.Tx, organisationID, name string) (*Team, error) {
	t := &Team{}
	err := tx.QueryRow(ctx,
		`INSERT INTO teams (organisation_id, name) VALUES ($1, $2)
		 RETURNING id, organisation_id, name, created_at`,
		organisationID, name,
	).Scan(&t.ID, &t.OrganisationID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}
	return t, nil
}

// GetTeam retrieves a team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	t := &Team{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, organisation_id, name, created_at FROM teams WHERE id = $1`, id,
	).Scan(&t.ID, &t.OrganisationID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return t, nil
}

// ListTeamsByOrganisation returns an organisation's teams, newest first.
func (s *Store) ListTeamsByOrganisation(ctx context.Context, organisationID string) ([]*Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organisation_id, name, created_at FROM teams
		 WHERE organisation_id = $1 ORDER BY created_at DESC`,
		organisationID)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var out []*Team
	for rows.Next() {
		t := &Team{}
		if err := rows.Scan(&t.ID, &t.OrganisationID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTeamTx removes a team inside a caller-owned transaction.
func (s *Store) DeleteTeamTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Cases ---

// CreateCase inserts a case.
func (s *Store) CreateCase(ctx context.Context, teamID, title string) (*Case, error) {
	c := &Case{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cases (team_id, title) VALUES ($1, $2)
		 RETURNING id, team_id, title, created_at`,
		teamID, title,
	).Scan(&c.ID, &c.TeamID, &c.Title, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating case: %w", err)
	}
	return c, nil
}

// GetCase retrieves a case by id.
func (s *Store) GetCase(ctx context.Context, id string) (*Case, error) {
	c := &Case{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, team_id, title, created_at FROM cases WHERE id = $1`, id,
	).Scan(&c.ID, &c.TeamID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting case: %w", err)
	}
	return c, nil
}

// ListCasesByTeam returns a team's cases, newest first.
func (s *Store) ListCasesByTeam(ctx context.Context, teamID string) ([]*Case, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, team_id, title, created_at FROM cases
		 WHERE team_id = $1 ORDER BY created_at DESC`,
		teamID)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c := &Case{}
		if err := rows.Scan(&c.ID, &c.TeamID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning case row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCaseTx removes a case inside a caller-owned transaction.
func (s *Store) DeleteCaseTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Clients ---

// CreateClient inserts a client.
func (s *Store) CreateClient(ctx context.Context, organisationID, name string) (*Client, error) {
	c := &Client{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO clients (organisation_id, name) VALUES ($1, $2)
		 RETURNING id, organisation_id, name, created_at`,
		organisationID, name,
	).Scan(&c.ID, &c.OrganisationID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return c, nil
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, id string) (*Client, error) {
	c := &Client{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, organisation_id, name, created_at FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrganisationID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}
	return c, nil
}

// DisplayName resolves the human-readable name for a scope, for invite
// emails and listings.
func (s *Store) DisplayName(ctx context.Context, scope membership.Scope) (string, error) {
	switch scope.Kind {
	case membership.ScopeOrganisation:
		o, err := s.GetOrganisation(ctx, scope.ID)
		if err != nil {
			return "", err
		}
		return o.Name, nil
	case membership.ScopeTeam, membership.ScopeTeamContext:
		t, err := s.GetTeam(ctx, scope.ID)
		if err != nil {
			return "", err
		}
		return t.Name, nil
	case membership.ScopeCase:
		c, err := s.GetCase(ctx, scope.ID)
		if err != nil {
			return "", err
		}
		return c.Title, nil
	case membership.ScopeClient:
		c, err := s.GetClient(ctx, scope.ID)
		if err != nil {
			return "", err
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
}
