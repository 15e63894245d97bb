package user

import (
	"context"

	"github.com/dockethq/docket/internal/auth"
)

// AuthAdapter adapts user.Store to the auth.SessionLookup interface.
type AuthAdapter struct {
	store *Store
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given user store.
func NewAuthAdapter(store *Store) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// LookupSession looks up a session token and returns the associated principal.
func (a *AuthAdapter) LookupSession(ctx context.Context, token string) (*auth.Principal, error) {
	p, err := a.store.GetSessionProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{
		ID:    p.ID,
		Email: p.Email,
		Name:  p.Name,
		Role:  p.Role,
	}, nil
}
