package membership

import "time"

// Role is the role a principal holds within a scope.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleAssignee Role = "assignee"
	RoleClient   Role = "client"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleAssignee, RoleClient:
		return true
	}
	return false
}

// ScopeKind discriminates what kind of entity a membership attaches to.
type ScopeKind string

const (
	ScopeOrganisation ScopeKind = "organisation"
	ScopeTeam         ScopeKind = "team"
	ScopeTeamContext  ScopeKind = "team_context"
	ScopeCase         ScopeKind = "case"
	ScopeClient       ScopeKind = "client"
)

// Valid reports whether k is one of the known scope kinds.
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeOrganisation, ScopeTeam, ScopeTeamContext, ScopeCase, ScopeClient:
		return true
	}
	return false
}

// Scope identifies the entity a membership or invite applies to. The kind
// is the discriminant; exactly one target entity is referenced by ID.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// Valid reports whether the scope carries a known kind and a non-empty ID.
func (s Scope) Valid() bool {
	return s.Kind.Valid() && s.ID != ""
}

// PrincipalKind distinguishes user profiles from non-user principals such
// as client-team links.
type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalClient PrincipalKind = "client"
)

// Valid reports whether k is a known principal kind.
func (k PrincipalKind) Valid() bool {
	return k == PrincipalUser || k == PrincipalClient
}

// Membership is the polymorphic join between a principal and a scope.
// Memberships are never mutated after creation except for role changes.
type Membership struct {
	ID            string        `json:"id"`
	Role          Role          `json:"role"`
	Scope         Scope         `json:"scope"`
	PrincipalKind PrincipalKind `json:"principal_kind"`
	PrincipalID   string        `json:"principal_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// CreateMembershipInput holds the fields required to create a membership.
type CreateMembershipInput struct {
	Role          Role          `json:"role"`
	Scope         Scope         `json:"scope"`
	PrincipalKind PrincipalKind `json:"principal_kind"`
	PrincipalID   string        `json:"principal_id"`
}

// Validate checks that the input references a valid role, scope and principal.
func (in CreateMembershipInput) Validate() error {
	if !in.Role.Valid() {
		return ErrInvalidRole
	}
	if !in.Scope.Valid() {
		return ErrInvalidScope
	}
	if !in.PrincipalKind.Valid() || in.PrincipalID == "" {
		return ErrPrincipalRequired
	}
	return nil
}

// ListFilter narrows a membership listing. Zero-value fields are ignored.
type ListFilter struct {
	Kind        ScopeKind `json:"kind,omitempty"`
	ScopeID     string    `json:"scope_id,omitempty"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Role        Role      `json:"role,omitempty"`
}
