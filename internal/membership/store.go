package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Errors returned by the membership store.
var (
	ErrNotFound          = errors.New("membership not found")
	ErrDuplicate         = errors.New("principal already has a membership in this scope")
	ErrInvalidRole       = errors.New("role must be one of: owner, admin, member, assignee, client")
	ErrInvalidScope      = errors.New("scope must reference an organisation, team, team_context, case or client")
	ErrPrincipalRequired = errors.New("a principal is required")
	ErrCannotRemoveOwner = errors.New("cannot remove the last owner of a scope")
)

// guardedScopeKinds are the scope kinds that must always retain at least one
// owner membership.
var guardedScopeKinds = map[ScopeKind]bool{
	ScopeOrganisation: true,
	ScopeTeam:         true,
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx so that inserts
// can run standalone or inside a caller-owned transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides database operations for memberships.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new membership store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const membershipColumns = "id, role, scope_kind, scope_id, principal_kind, principal_id, created_at"

// scanMembership scans a membership row.
func scanMembership(scan func(dest ...any) error) (*Membership, error) {
	m := &Membership{}
	err := scan(&m.ID, &m.Role, &m.Scope.Kind, &m.Scope.ID, &m.PrincipalKind, &m.PrincipalID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create validates the input and inserts a new membership.
func (s *Store) Create(ctx context.Context, in CreateMembershipInput) (*Membership, error) {
	return createMembership(ctx, s.pool, in)
}

// CreateTx is Create executed inside a caller-owned transaction, for actions
// that must persist a membership atomically with another record.
func (s *Store) CreateTx(ctx context.Context, tx pgx.Tx, in CreateMembershipInput) (*Membership, error) {
	return createMembership(ctx, tx, in)
}

func createMembership(ctx context.Context, q rowQuerier, in CreateMembershipInput) (*Membership, error) {
	if in.PrincipalKind == "" {
		in.PrincipalKind = PrincipalUser
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m, err := scanMembership(func(dest ...any) error {
		return q.QueryRow(ctx,
			`INSERT INTO memberships (role, scope_kind, scope_id, principal_kind, principal_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+membershipColumns,
			in.Role, in.Scope.Kind, in.Scope.ID, in.PrincipalKind, in.PrincipalID,
		).Scan(dest...)
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("creating membership: %w", err)
	}
	return m, nil
}

// GetByID retrieves a membership by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Membership, error) {
	m, err := scanMembership(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting membership by id: %w", err)
	}
	return m, nil
}

// List returns memberships matching the filter, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Membership, error) {
	where, args := buildListWhere(f)

	rows, err := s.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships`+where+` ORDER BY created_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// buildListWhere constructs a WHERE clause and positional arguments from a
// ListFilter. The returned string starts with " WHERE" or is empty.
func buildListWhere(f ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if f.Kind != "" {
		args = append(args, f.Kind)
		conditions = append(conditions, fmt.Sprintf("scope_kind = $%d", len(args)))
	}
	if f.ScopeID != "" {
		args = append(args, f.ScopeID)
		conditions = append(conditions, fmt.Sprintf("scope_id = $%d", len(args)))
	}
	if f.PrincipalID != "" {
		args = append(args, f.PrincipalID)
		conditions = append(conditions, fmt.Sprintf("principal_id = $%d", len(args)))
	}
	if f.Role != "" {
		args = append(args, f.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// HasRole reports whether the principal holds a membership with the given
// role in exactly the given scope.
func (s *Store) HasRole(ctx context.Context, principalID string, scope Scope, role Role) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM memberships
			WHERE principal_id = $1 AND scope_kind = $2 AND scope_id = $3 AND role = $4
		 )`,
		principalID, scope.Kind, scope.ID, role,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking membership role: %w", err)
	}
	return exists, nil
}

// ShareScope reports whether two principals hold memberships in at least one
// common scope of any of the given kinds, independent of role.
func (s *Store) ShareScope(ctx context.Context, principalID, otherID string, kinds []ScopeKind) (bool, error) {
	if len(kinds) == 0 {
		return false, nil
	}
	ks := make([]string, len(kinds))
	for i, k := range kinds {
		ks[i] = string(k)
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM memberships a
			JOIN memberships b ON a.scope_kind = b.scope_kind AND a.scope_id = b.scope_id
			WHERE a.principal_id = $1 AND b.principal_id = $2 AND a.scope_kind = ANY($3)
		 )`,
		principalID, otherID, ks,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking shared scope: %w", err)
	}
	return exists, nil
}

// UpdateRole changes the role on a membership. Demoting the last owner of an
// organisation or team is rejected so the scope never becomes ownerless; the
// remaining-owner count is checked under a row lock in the same transaction.
func (s *Store) UpdateRole(ctx context.Context, id string, role Role) (*Membership, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning role update: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockMembership(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if current.Role == RoleOwner && role != RoleOwner && guardedScopeKinds[current.Scope.Kind] {
		owners, err := countOwnersLocked(ctx, tx, current.Scope)
		if err != nil {
			return nil, err
		}
		if owners <= 1 {
			return nil, ErrCannotRemoveOwner
		}
	}

	m, err := scanMembership(func(dest ...any) error {
		return tx.QueryRow(ctx,
			`UPDATE memberships SET role = $1 WHERE id = $2 RETURNING `+membershipColumns,
			role, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("updating membership role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing role update: %w", err)
	}
	return m, nil
}

// Remove deletes a membership. Removing the last owner membership of an
// organisation or team is rejected.
func (s *Store) Remove(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning membership removal: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockMembership(ctx, tx, id)
	if err != nil {
		return err
	}

	if current.Role == RoleOwner && guardedScopeKinds[current.Scope.Kind] {
		owners, err := countOwnersLocked(ctx, tx, current.Scope)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrCannotRemoveOwner
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM memberships WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing membership removal: %w", err)
	}
	return nil
}

// RemoveByScopeTx deletes every membership attached to a scope, as part of
// deleting the scope entity itself. The owner guard does not apply here.
func (s *Store) RemoveByScopeTx(ctx context.Context, tx pgx.Tx, scope Scope) (int64, error) {
	tag, err := tx.Exec(ctx,
		`DELETE FROM memberships WHERE scope_kind = $1 AND scope_id = $2`,
		scope.Kind, scope.ID)
	if err != nil {
		return 0, fmt.Errorf("deleting memberships for scope: %w", err)
	}
	return tag.RowsAffected(), nil
}

// lockMembership fetches a membership row FOR UPDATE inside tx.
func lockMembership(ctx context.Context, tx pgx.Tx, id string) (*Membership, error) {
	m, err := scanMembership(func(dest ...any) error {
		return tx.QueryRow(ctx,
			`SELECT `+membershipColumns+` FROM memberships WHERE id = $1 FOR UPDATE`, id,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking membership: %w", err)
	}
	return m, nil
}

// countOwnersLocked counts owner memberships of a scope, locking the rows so
// a concurrent removal cannot race past the guard.
func countOwnersLocked(ctx context.Context, tx pgx.Tx, scope Scope) (int, error) {
	rows, err := tx.Query(ctx,
		`SELECT id FROM memberships
		 WHERE scope_kind = $1 AND scope_id = $2 AND role = $3
		 FOR UPDATE`,
		scope.Kind, scope.ID, RoleOwner)
	if err != nil {
		return 0, fmt.Errorf("counting scope owners: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}
