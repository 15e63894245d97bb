// Package access answers "can principal P manage scope S" and "can principal
// P view principal Q". It gates UI visibility, so it fails soft: every error
// path reads as no access, and a denied caller is indistinguishable from an
// unauthenticated one. Callers that need the cause must not use this package.
package access

import (
	"context"
	"log/slog"

	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/user"
)

// MembershipSource is the slice of membership.Store the evaluator needs.
type MembershipSource interface {
	HasRole(ctx context.Context, principalID string, scope membership.Scope, role membership.Role) (bool, error)
	ShareScope(ctx context.Context, principalID, otherID string, kinds []membership.ScopeKind) (bool, error)
}

// ProfileSource is the slice of user.Store the evaluator needs.
type ProfileSource interface {
	GetByID(ctx context.Context, id string) (*user.Profile, error)
}

// Evaluator computes access predicates over memberships and profiles.
type Evaluator struct {
	memberships MembershipSource
	profiles    ProfileSource
}

// NewEvaluator creates an Evaluator over the given sources.
func NewEvaluator(memberships MembershipSource, profiles ProfileSource) *Evaluator {
	return &Evaluator{memberships: memberships, profiles: profiles}
}

// CanManage reports whether the principal may manage the given scope: either
// a global superadmin, or the holder of an owner membership in exactly that
// scope. A team admin role grants no management rights; only owner does.
func (e *Evaluator) CanManage(ctx context.Context, principalID string, scope membership.Scope) bool {
	p, err := e.profiles.GetByID(ctx, principalID)
	if err != nil || p == nil {
		return false
	}
	if p.IsSuperadmin() {
		return true
	}

	ok, err := e.memberships.HasRole(ctx, principalID, scope, membership.RoleOwner)
	if err != nil {
		slog.Error("access check failed", "principal_id", principalID, "error", err)
		return false
	}
	return ok
}

// CanView reports whether the principal may view the target principal's
// profile: self, global superadmin, or sharing at least one organisation or
// team membership with the target, independent of role on either side.
func (e *Evaluator) CanView(ctx context.Context, principalID, targetID string) bool {
	if principalID == "" {
		return false
	}
	if principalID == targetID {
		return true
	}

	p, err := e.profiles.GetByID(ctx, principalID)
	if err != nil || p == nil {
		return false
	}
	if p.IsSuperadmin() {
		return true
	}

	shared, err := e.memberships.ShareScope(ctx, principalID, targetID,
		[]membership.ScopeKind{membership.ScopeOrganisation, membership.ScopeTeam})
	if err != nil {
		slog.Error("access check failed", "principal_id", principalID, "error", err)
		return false
	}
	return shared
}
