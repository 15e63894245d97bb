package access

import (
	"context"
	"errors"
	"testing"

	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/user"
)

// fakeMemberships answers role and overlap checks from in-memory records.
type fakeMemberships struct {
	records []membership.Membership
	err     error
}

func (f *fakeMemberships) HasRole(_ context.Context, principalID string, scope membership.Scope, role membership.Role) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, m := range f.records {
		if m.PrincipalID == principalID && m.Scope == scope && m.Role == role {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMemberships) ShareScope(_ context.Context, principalID, otherID string, kinds []membership.ScopeKind) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	wanted := make(map[membership.ScopeKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	for _, a := range f.records {
		if a.PrincipalID != principalID || !wanted[a.Scope.Kind] {
			continue
		}
		for _, b := range f.records {
			if b.PrincipalID == otherID && b.Scope == a.Scope {
				return true, nil
			}
		}
	}
	return false, nil
}

// fakeProfiles serves profiles by ID.
type fakeProfiles struct {
	profiles map[string]*user.Profile
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*user.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return p, nil
}

var teamScope = membership.Scope{Kind: membership.ScopeTeam, ID: "team-1"}

func testProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]*user.Profile{
		"root":   {ID: "root", Role: user.RoleSuperadmin},
		"owner":  {ID: "owner", Role: user.RoleMember},
		"admin":  {ID: "admin", Role: user.RoleMember},
		"member": {ID: "member", Role: user.RoleMember},
		"lone":   {ID: "lone", Role: user.RoleMember},
	}}
}

func testMemberships() *fakeMemberships {
	return &fakeMemberships{records: []membership.Membership{
		{PrincipalID: "owner", Scope: teamScope, Role: membership.RoleOwner},
		{PrincipalID: "admin", Scope: teamScope, Role: membership.RoleAdmin},
		{PrincipalID: "member", Scope: teamScope, Role: membership.RoleMember},
	}}
}

func TestCanManage(t *testing.T) {
	e := NewEvaluator(testMemberships(), testProfiles())
	ctx := context.Background()

	tests := []struct {
		name      string
		principal string
		want      bool
	}{
		{"superadmin manages everything", "root", true},
		{"owner manages own scope", "owner", true},
		{"admin role grants no management rights", "admin", false},
		{"plain member cannot manage", "member", false},
		{"unknown principal fails soft", "ghost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CanManage(ctx, tt.principal, teamScope); got != tt.want {
				t.Errorf("CanManage(%s) = %v, want %v", tt.principal, got, tt.want)
			}
		})
	}
}

func TestCanManage_ExactScopeOnly(t *testing.T) {
	e := NewEvaluator(testMemberships(), testProfiles())

	other := membership.Scope{Kind: membership.ScopeTeam, ID: "team-2"}
	if e.CanManage(context.Background(), "owner", other) {
		t.Error("owner of team-1 must not manage team-2")
	}
}

func TestCanManage_StoreError(t *testing.T) {
	ms := testMemberships()
	ms.err = errors.New("db down")
	e := NewEvaluator(ms, testProfiles())

	if e.CanManage(context.Background(), "owner", teamScope) {
		t.Error("store errors must read as no access")
	}
}

func TestCanView(t *testing.T) {
	e := NewEvaluator(testMemberships(), testProfiles())
	ctx := context.Background()

	tests := []struct {
		name      string
		principal string
		target    string
		want      bool
	}{
		{"self-view is always allowed", "member", "member", true},
		{"superadmin views anyone", "root", "lone", true},
		{"shared team grants visibility", "member", "admin", true},
		{"role is irrelevant to visibility", "member", "owner", true},
		{"no shared scope denies", "member", "lone", false},
		{"unknown principal fails soft", "ghost", "member", false},
		{"empty principal fails soft", "", "member", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CanView(ctx, tt.principal, tt.target); got != tt.want {
				t.Errorf("CanView(%s, %s) = %v, want %v", tt.principal, tt.target, got, tt.want)
			}
		})
	}
}

func TestCanView_SelfWithoutProfile(t *testing.T) {
	// Self-view short-circuits before any lookup, so even a principal the
	// profile store cannot resolve may view itself.
	e := NewEvaluator(testMemberships(), testProfiles())
	if !e.CanView(context.Background(), "ghost", "ghost") {
		t.Error("CanView(p, p) must be true")
	}
}
