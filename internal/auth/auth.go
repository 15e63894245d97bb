package auth

import "context"

// Principal represents the authenticated caller resolved from a session.
// It carries only the global role; scope-level roles are answered by the
// access evaluator.
type Principal struct {
	ID    string
	Email string
	Name  string
	Role  string // "superadmin" or "member"
}

// IsSuperadmin reports whether the principal holds the global elevated role.
func (p *Principal) IsSuperadmin() bool {
	return p.Role == "superadmin"
}

// SessionLookup is the interface for resolving session tokens to principals.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*Principal, error)
}
