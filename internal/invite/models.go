package invite

import (
	"errors"
	"time"

	"github.com/dockethq/docket/internal/membership"
)

// Errors returned by invite operations.
var (
	ErrNotFound     = errors.New("invite not found")
	ErrExpired      = errors.New("invite has expired")
	ErrNotPending   = errors.New("invite is not pending")
	ErrNotTerminal  = errors.New("invite is already accepted or cancelled")
	ErrEmailInvalid = errors.New("email address is invalid")
	ErrScopeInvalid = errors.New("invite scope must be an organisation or a team")
	ErrRoleInvalid  = errors.New("role must be one of: owner, admin, member, assignee, client")
)

// Status is the stored lifecycle state of an invite. The stored value is an
// advisory cache: an invite whose expiry has passed is expired no matter what
// status says, so every decision point checks ExpiresAt against the clock.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Invite is an offer of membership in an organisation or team, addressed to
// an email that need not belong to an existing profile. Invites are kept
// forever for audit; terminal invites are never physically deleted.
type Invite struct {
	ID         string           `json:"id"`
	Email      string           `json:"email"`
	Role       membership.Role  `json:"role"`
	Scope      membership.Scope `json:"scope"`
	Token      string           `json:"-"`
	Status     Status           `json:"status"`
	ExpiresAt  time.Time        `json:"expires_at"`
	CreatedAt  time.Time        `json:"created_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy string           `json:"accepted_by,omitempty"`
}

// ExpiredAt reports whether the invite's validity window has passed at the
// given instant, regardless of stored status.
func (i *Invite) ExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// AcceptableAt reports whether the invite can be accepted or rejected at the
// given instant: it must be stored pending and still inside its window.
func (i *Invite) AcceptableAt(now time.Time) error {
	if i.Status != StatusPending {
		return ErrNotPending
	}
	if i.ExpiredAt(now) {
		return ErrExpired
	}
	return nil
}

// CancellableAt reports whether the invite can be cancelled: valid from
// pending or expired (stored or clock-derived), never from a terminal state.
func (i *Invite) CancellableAt(now time.Time) error {
	switch i.Status {
	case StatusPending, StatusExpired:
		return nil
	default:
		return ErrNotTerminal
	}
}

// RenewableAt reports whether the invite can be renewed. Only stored-pending
// invites qualify; a pending invite past its old expiry can still be renewed,
// which deliberately un-expires it for admin-initiated extension.
func (i *Invite) RenewableAt(now time.Time) error {
	if i.Status != StatusPending {
		return ErrNotPending
	}
	return nil
}

// EffectiveStatus is the status as the state machine sees it: pending plus a
// passed expiry reads as expired even before any sweep has flipped the flag.
func (i *Invite) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusPending && i.ExpiredAt(now) {
		return StatusExpired
	}
	return i.Status
}

// ListFilter narrows an invite listing. Zero-value fields are ignored.
type ListFilter struct {
	Scope  membership.Scope `json:"scope,omitempty"`
	Email  string           `json:"email,omitempty"`
	Status Status           `json:"status,omitempty"`
}
