package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/membership"
)

// inviteCanceller is the slice of invite.Store the service needs when a
// scope entity is deleted.
type inviteCanceller interface {
	CancelForScope(ctx context.Context, scope membership.Scope) (int64, error)
}

// eventRecorder is the slice of events.Recorder the service needs.
type eventRecorder interface {
	Record(ev events.Event)
}

// Service provides validated tenancy operations. Creating an organisation or
// team grants the creator an owner membership in the same transaction, so a
// scope is never born ownerless.
type Service struct {
	pool        *pgxpool.Pool
	store       *Store
	memberships *membership.Store
	invites     inviteCanceller
	recorder    eventRecorder
}

// NewService creates a new tenant service.
func NewService(pool *pgxpool.Pool, store *Store, memberships *membership.Store, invites inviteCanceller, recorder eventRecorder) *Service {
	return &Service{
		pool:        pool,
		store:       store,
		memberships: memberships,
		invites:     invites,
		recorder:    recorder,
	}
}

// CreateOrganisation creates an organisation and the creator's owner
// membership atomically, then records the lifecycle event.
func (s *Service) CreateOrganisation(ctx context.Context, name, creatorID string) (*Organisation, *membership.Membership, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning organisation creation: %w", err)
	}
	defer tx.Rollback(ctx)

	org, err := s.store.CreateOrganisationTx(ctx, tx, name)
	if err != nil {
		return nil, nil, err
	}

	m, err := s.memberships.CreateTx(ctx, tx, membership.CreateMembershipInput{
		Role:          membership.RoleOwner,
		Scope:         membership.Scope{Kind: membership.ScopeOrganisation, ID: org.ID},
		PrincipalKind: membership.PrincipalUser,
		PrincipalID:   creatorID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing organisation creation: %w", err)
	}

	s.record(events.TypeOrganisationCreated, org.ID, org.CreatedAt, nil)
	return org, m, nil
}

// CreateTeam creates a team and the creator's owner membership atomically.
func (s *Service) CreateTeam(ctx context.Context, organisationID, name, creatorID string) (*Team, *membership.Membership, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	if _, err := s.store.GetOrganisation(ctx, organisationID); err != nil {
		return nil, nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning team creation: %w", err)
	}
	defer tx.Rollback(ctx)

	team, err := s.store.CreateTeamTx(ctx, tx, organisationID, name)
	if err != nil {
		return nil, nil, err
	}

	m, err := s.memberships.CreateTx(ctx, tx, membership.CreateMembershipInput{
		Role:          membership.RoleOwner,
		Scope:         membership.Scope{Kind: membership.ScopeTeam, ID: team.ID},
		PrincipalKind: membership.PrincipalUser,
		PrincipalID:   creatorID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing team creation: %w", err)
	}

	s.record(events.TypeTeamCreated, team.ID, team.CreatedAt,
		map[string]string{"organisation_id": organisationID})
	return team, m, nil
}

// DeleteOrganisation removes an organisation, its teams (via schema
// cascade), and every membership attached to those scopes, atomically.
// Outstanding invites to the deleted scopes are cancelled afterwards.
func (s *Service) DeleteOrganisation(ctx context.Context, id string) error {
	teams, err := s.store.ListTeamsByOrganisation(ctx, id)
	if err != nil {
		return err
	}

	orgScope := membership.Scope{Kind: membership.ScopeOrganisation, ID: id}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning organisation deletion: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.memberships.RemoveByScopeTx(ctx, tx, orgScope); err != nil {
		return err
	}
	for _, t := range teams {
		teamScope := membership.Scope{Kind: membership.ScopeTeam, ID: t.ID}
		if _, err := s.memberships.RemoveByScopeTx(ctx, tx, teamScope); err != nil {
			return err
		}
	}
	if err := s.store.DeleteOrganisationTx(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing organisation deletion: %w", err)
	}

	now := time.Now()
	s.cancelInvites(ctx, orgScope)
	s.record(events.TypeOrganisationDeleted, id, now, nil)
	for _, t := range teams {
		s.cancelInvites(ctx, membership.Scope{Kind: membership.ScopeTeam, ID: t.ID})
		s.record(events.TypeTeamDeleted, t.ID, now, map[string]string{"organisation_id": id})
	}
	return nil
}

// DeleteTeam removes a team and its memberships atomically, then cancels
// outstanding invites to it.
func (s *Service) DeleteTeam(ctx context.Context, id string) error {
	team, err := s.store.GetTeam(ctx, id)
	if err != nil {
		return err
	}
	scope := membership.Scope{Kind: membership.ScopeTeam, ID: id}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning team deletion: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.memberships.RemoveByScopeTx(ctx, tx, scope); err != nil {
		return err
	}
	if err := s.store.DeleteTeamTx(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing team deletion: %w", err)
	}

	s.cancelInvites(ctx, scope)
	s.record(events.TypeTeamDeleted, id, time.Now(),
		map[string]string{"organisation_id": team.OrganisationID})
	return nil
}

// CreateCase creates a case under a team.
func (s *Service) CreateCase(ctx context.Context, teamID, title string) (*Case, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}

	c, err := s.store.CreateCase(ctx, teamID, title)
	if err != nil {
		return nil, err
	}
	s.record(events.TypeCaseCreated, c.ID, c.CreatedAt,
		map[string]string{"team_id": teamID})
	return c, nil
}

// DeleteCase removes a case and its memberships atomically.
func (s *Service) DeleteCase(ctx context.Context, id string) error {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return err
	}
	scope := membership.Scope{Kind: membership.ScopeCase, ID: id}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning case deletion: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.memberships.RemoveByScopeTx(ctx, tx, scope); err != nil {
		return err
	}
	if err := s.store.DeleteCaseTx(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing case deletion: %w", err)
	}

	s.record(events.TypeCaseDeleted, id, time.Now(),
		map[string]string{"team_id": c.TeamID})
	return nil
}

// CreateClient registers a client under an organisation.
func (s *Service) CreateClient(ctx context.Context, organisationID, name string) (*Client, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOrganisation(ctx, organisationID); err != nil {
		return nil, err
	}
	return s.store.CreateClient(ctx, organisationID, name)
}

func (s *Service) record(t events.Type, entityID string, ts time.Time, metadata map[string]string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(events.Event{
		Type:      t,
		EntityID:  entityID,
		Timestamp: ts,
		Metadata:  metadata,
	})
}

func (s *Service) cancelInvites(ctx context.Context, scope membership.Scope) {
	if s.invites == nil {
		return
	}
	if _, err := s.invites.CancelForScope(ctx, scope); err != nil {
		slog.Error("failed to cancel invites for deleted scope",
			"scope_kind", scope.Kind, "scope_id", scope.ID, "error", err)
	}
}
