package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dockethq/docket/internal/membership"
)

// Store provides database operations for invites. Transitions that must be
// atomic with other records (acceptance materializing a membership) run in a
// single transaction here, so callers cannot end up with half the effect.
type Store struct {
	pool        *pgxpool.Pool
	memberships *membership.Store
}

// NewStore creates a new invite store backed by the given connection pool.
// The membership store is used to materialize accepted invites.
func NewStore(pool *pgxpool.Pool, memberships *membership.Store) *Store {
	return &Store{pool: pool, memberships: memberships}
}

const inviteColumns = "id, email, role, scope_kind, scope_id, token, status, expires_at, created_at, accepted_at, accepted_by"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so that writes can
// run standalone or inside a caller-owned transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scanInvite scans an invite row.
func scanInvite(scan func(dest ...any) error) (*Invite, error) {
	i := &Invite{}
	var acceptedAt *time.Time
	var acceptedBy *string
	err := scan(&i.ID, &i.Email, &i.Role, &i.Scope.Kind, &i.Scope.ID, &i.Token,
		&i.Status, &i.ExpiresAt, &i.CreatedAt, &acceptedAt, &acceptedBy)
	if err != nil {
		return nil, err
	}
	i.AcceptedAt = acceptedAt
	if acceptedBy != nil {
		i.AcceptedBy = *acceptedBy
	}
	return i, nil
}

// CreateInput holds the fields required to persist a new invite.
type CreateInput struct {
	Email     string
	Role      membership.Role
	Scope     membership.Scope
	Token     string
	ExpiresAt time.Time
}

// Create inserts a new pending invite.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Invite, error) {
	return createInvite(ctx, s.pool, in)
}

func createInvite(ctx context.Context, q querier, in CreateInput) (*Invite, error) {
	i, err := scanInvite(func(dest ...any) error {
		return q.QueryRow(ctx,
			`INSERT INTO invites (email, role, scope_kind, scope_id, token, status, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+inviteColumns,
			in.Email, in.Role, in.Scope.Kind, in.Scope.ID, in.Token, StatusPending, in.ExpiresAt,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating invite: %w", err)
	}
	return i, nil
}

// GetByID retrieves an invite by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Invite, error) {
	return s.getBy(ctx, "id", id)
}

// GetByToken resolves an invite from its opaque token, the sole credential
// an invitee presents.
func (s *Store) GetByToken(ctx context.Context, token string) (*Invite, error) {
	return s.getBy(ctx, "token", token)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*Invite, error) {
	i, err := scanInvite(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+inviteColumns+` FROM invites WHERE `+column+` = $1`, value,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting invite by %s: %w", column, err)
	}
	return i, nil
}

// List returns invites matching the filter, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Invite, error) {
	var conditions []string
	var args []any

	if f.Scope.Kind != "" {
		args = append(args, f.Scope.Kind)
		conditions = append(conditions, fmt.Sprintf("scope_kind = $%d", len(args)))
	}
	if f.Scope.ID != "" {
		args = append(args, f.Scope.ID)
		conditions = append(conditions, fmt.Sprintf("scope_id = $%d", len(args)))
	}
	if f.Email != "" {
		args = append(args, f.Email)
		conditions = append(conditions, fmt.Sprintf("email = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+inviteColumns+` FROM invites`+where+` ORDER BY created_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	var out []*Invite
	for rows.Next() {
		i, err := scanInvite(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning invite row: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Replace cancels every outstanding (pending or expired) invite for the same
// (email, scope) pair and inserts the fresh invite, atomically. Running both
// in one transaction means a failed insert can never leave the pair with its
// old invites cancelled and no replacement issued.
func (s *Store) Replace(ctx context.Context, in CreateInput) ([]*Invite, *Invite, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning re-invite: %w", err)
	}
	defer tx.Rollback(ctx)

	cancelled, err := cancelOutstanding(ctx, tx, in.Email, in.Scope)
	if err != nil {
		return nil, nil, err
	}

	created, err := createInvite(ctx, tx, in)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing re-invite: %w", err)
	}
	return cancelled, created, nil
}

// cancelOutstanding flips every pending or expired invite for the same
// (email, scope) pair to cancelled and returns them, so re-invitation never
// leaves duplicate outstanding invites behind.
func cancelOutstanding(ctx context.Context, q querier, email string, scope membership.Scope) ([]*Invite, error) {
	rows, err := q.Query(ctx,
		`UPDATE invites SET status = $1
		 WHERE email = $2 AND scope_kind = $3 AND scope_id = $4 AND status IN ($5, $6)
		 RETURNING `+inviteColumns,
		StatusCancelled, email, scope.Kind, scope.ID, StatusPending, StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("cancelling outstanding invites: %w", err)
	}
	defer rows.Close()

	var out []*Invite
	for rows.Next() {
		i, err := scanInvite(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning cancelled invite: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// CancelForScope flips every pending or expired invite for a scope to
// cancelled, used when the scope entity itself is deleted.
func (s *Store) CancelForScope(ctx context.Context, scope membership.Scope) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invites SET status = $1
		 WHERE scope_kind = $2 AND scope_id = $3 AND status IN ($4, $5)`,
		StatusCancelled, scope.Kind, scope.ID, StatusPending, StatusExpired)
	if err != nil {
		return 0, fmt.Errorf("cancelling invites for scope: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Accept marks the invite accepted and creates the membership it promised,
// atomically. The UPDATE re-checks status = pending so a concurrent
// transition loses cleanly; rows affected = 0 surfaces as ErrNotPending.
func (s *Store) Accept(ctx context.Context, id, principalID string, now time.Time) (*Invite, *membership.Membership, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning invite acceptance: %w", err)
	}
	defer tx.Rollback(ctx)

	i, err := scanInvite(func(dest ...any) error {
		return tx.QueryRow(ctx,
			`UPDATE invites
			 SET status = $1, accepted_at = $2, accepted_by = $3
			 WHERE id = $4 AND status = $5
			 RETURNING `+inviteColumns,
			StatusAccepted, now, principalID, id, StatusPending,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotPending
	}
	if err != nil {
		return nil, nil, fmt.Errorf("accepting invite: %w", err)
	}

	m, err := s.memberships.CreateTx(ctx, tx, membership.CreateMembershipInput{
		Role:          i.Role,
		Scope:         i.Scope,
		PrincipalKind: membership.PrincipalUser,
		PrincipalID:   principalID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing invite acceptance: %w", err)
	}
	return i, m, nil
}

// Cancel flips the invite to cancelled. The predicate re-checks that the
// stored status is still pending or expired.
func (s *Store) Cancel(ctx context.Context, id string) (*Invite, error) {
	i, err := scanInvite(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE invites SET status = $1
			 WHERE id = $2 AND status IN ($3, $4)
			 RETURNING `+inviteColumns,
			StatusCancelled, id, StatusPending, StatusExpired,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("cancelling invite: %w", err)
	}
	return i, nil
}

// Renew extends a pending invite's expiry without changing status or token.
func (s *Store) Renew(ctx context.Context, id string, expiresAt time.Time) (*Invite, error) {
	i, err := scanInvite(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE invites SET expires_at = $1
			 WHERE id = $2 AND status = $3
			 RETURNING `+inviteColumns,
			expiresAt, id, StatusPending,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("renewing invite: %w", err)
	}
	return i, nil
}

// ExpireOld flips every pending invite whose window has passed to expired and
// returns the flipped invites. Idempotent: the predicate re-checks
// status = pending, so concurrent sweeps only race to a no-op.
func (s *Store) ExpireOld(ctx context.Context, now time.Time) ([]*Invite, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE invites SET status = $1
		 WHERE status = $2 AND expires_at < $3
		 RETURNING `+inviteColumns,
		StatusExpired, StatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("expiring invites: %w", err)
	}
	defer rows.Close()

	var out []*Invite
	for rows.Next() {
		i, err := scanInvite(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning expired invite: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
