package user

import "time"

// Global roles. Superadmins bypass scope-level access checks.
const (
	RoleSuperadmin = "superadmin"
	RoleMember     = "member"
)

// Profile represents a registered principal. Scope-level roles live in the
// membership store; the only role carried here is the global one.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"` // "superadmin" or "member"
	CreatedAt    time.Time `json:"created_at"`
}

// IsSuperadmin reports whether the profile carries the global elevated role.
func (p *Profile) IsSuperadmin() bool {
	return p.Role == RoleSuperadmin
}

// CreateProfileInput holds the fields required to create a new profile.
type CreateProfileInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Session represents an active login session.
type Session struct {
	TokenHash string    `json:"-"`
	ProfileID string    `json:"profile_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
