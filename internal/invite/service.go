package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/mailer"
	"github.com/dockethq/docket/internal/membership"
)

// Validity windows. Re-invites get a shorter window than first invites; the
// asymmetry is inherited product behavior, kept as-is pending clarification.
const (
	FirstInviteWindow = 72 * time.Hour
	ReinviteWindow    = 24 * time.Hour
)

// Storage is the persistence interface the Service drives. It exists to
// allow testing the lifecycle without a real database; *Store implements it.
type Storage interface {
	Create(ctx context.Context, in CreateInput) (*Invite, error)
	GetByID(ctx context.Context, id string) (*Invite, error)
	GetByToken(ctx context.Context, token string) (*Invite, error)
	List(ctx context.Context, f ListFilter) ([]*Invite, error)
	Replace(ctx context.Context, in CreateInput) (cancelled []*Invite, created *Invite, err error)
	Accept(ctx context.Context, id, principalID string, now time.Time) (*Invite, *membership.Membership, error)
	Cancel(ctx context.Context, id string) (*Invite, error)
	Renew(ctx context.Context, id string, expiresAt time.Time) (*Invite, error)
	ExpireOld(ctx context.Context, now time.Time) ([]*Invite, error)
}

// ScopeNamer resolves the display name shown in invite emails.
type ScopeNamer interface {
	DisplayName(ctx context.Context, scope membership.Scope) (string, error)
}

// eventRecorder is the slice of events.Recorder the service needs.
type eventRecorder interface {
	Record(ev events.Event)
}

// Service owns every invite state transition. All public methods return the
// sentinel errors declared in models.go on invalid transitions.
type Service struct {
	store          Storage
	namer          ScopeNamer
	mail           mailer.Sender
	recorder       eventRecorder
	firstWindow    time.Duration
	reinviteWindow time.Duration
	now            func() time.Time // injectable clock for testing
}

// NewService creates a new invite lifecycle service with the default
// validity windows.
func NewService(store Storage, namer ScopeNamer, mail mailer.Sender, recorder eventRecorder) *Service {
	return &Service{
		store:          store,
		namer:          namer,
		mail:           mail,
		recorder:       recorder,
		firstWindow:    FirstInviteWindow,
		reinviteWindow: ReinviteWindow,
		now:            time.Now,
	}
}

// ConfigureWindows overrides the validity windows. Non-positive values keep
// the current ones.
func (s *Service) ConfigureWindows(first, reinvite time.Duration) {
	if first > 0 {
		s.firstWindow = first
	}
	if reinvite > 0 {
		s.reinviteWindow = reinvite
	}
}

// Create issues a fresh invite with the first-invite validity window and
// triggers the invite email. Email delivery is fire and forget: a send
// failure is logged and never fails the invite.
func (s *Service) Create(ctx context.Context, email string, scope membership.Scope, role membership.Role) (*Invite, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validateInviteScope(scope); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrRoleInvalid
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	inv, err := s.store.Create(ctx, CreateInput{
		Email:     email,
		Role:      role,
		Scope:     scope,
		Token:     token,
		ExpiresAt: s.now().Add(s.firstWindow),
	})
	if err != nil {
		return nil, err
	}

	s.recordInviteEvent(events.TypeInviteCreated, inv, inv.CreatedAt)
	s.sendInviteMail(ctx, inv)
	return inv, nil
}

// ReInvite cancels every outstanding (pending or expired) invite for the
// same (email, scope) pair and issues a fresh invite with the shorter
// re-invite window, in one transaction. At most one pending invite per pair
// survives, and a failure leaves the old invites untouched.
func (s *Service) ReInvite(ctx context.Context, email string, scope membership.Scope, role membership.Role) (*Invite, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validateInviteScope(scope); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrRoleInvalid
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	cancelled, inv, err := s.store.Replace(ctx, CreateInput{
		Email:     email,
		Role:      role,
		Scope:     scope,
		Token:     token,
		ExpiresAt: now.Add(s.reinviteWindow),
	})
	if err != nil {
		return nil, err
	}

	for _, c := range cancelled {
		s.recordInviteEvent(events.TypeInviteDeleted, c, now)
	}
	s.recordInviteEvent(events.TypeInviteCreated, inv, inv.CreatedAt)
	s.sendInviteMail(ctx, inv)
	return inv, nil
}

// AcceptByToken resolves an invite from its token and accepts it on behalf
// of the given principal.
func (s *Service) AcceptByToken(ctx context.Context, token, principalID string) (*Invite, *membership.Membership, error) {
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return s.accept(ctx, inv, principalID)
}

// Accept accepts an invite by ID on behalf of the given principal.
func (s *Service) Accept(ctx context.Context, id, principalID string) (*Invite, *membership.Membership, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s.accept(ctx, inv, principalID)
}

// accept validates the transition against the clock, then atomically marks
// the invite accepted and creates the promised membership. A stored-pending
// invite whose window has passed fails with ErrExpired even though no sweep
// has flipped it: expiry is derived, the flag is a cache.
func (s *Service) accept(ctx context.Context, inv *Invite, principalID string) (*Invite, *membership.Membership, error) {
	now := s.now()
	if err := inv.AcceptableAt(now); err != nil {
		return nil, nil, err
	}

	accepted, m, err := s.store.Accept(ctx, inv.ID, principalID, now)
	if err != nil {
		return nil, nil, err
	}

	s.recordInviteEvent(events.TypeInviteAccepted, accepted, now)
	return accepted, m, nil
}

// Reject declines a pending, unexpired invite on behalf of the invitee.
// Rejection and cancellation share the cancelled state.
func (s *Service) Reject(ctx context.Context, id, principalID string) (*Invite, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := inv.AcceptableAt(now); err != nil {
		return nil, err
	}

	rejected, err := s.store.Cancel(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	s.recordInviteEvent(events.TypeInviteDeleted, rejected, now)
	return rejected, nil
}

// Cancel withdraws a pending or expired invite. Accepted and cancelled are
// terminal; cancelling them is an error.
func (s *Service) Cancel(ctx context.Context, id string) (*Invite, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := inv.CancellableAt(now); err != nil {
		return nil, err
	}

	cancelled, err := s.store.Cancel(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	s.recordInviteEvent(events.TypeInviteDeleted, cancelled, now)
	return cancelled, nil
}

// Renew extends a pending invite by the first-invite window from now,
// keeping status and token. A pending invite past its old expiry is
// deliberately renewable: this is the admin-initiated extension path and
// must not be exposed to invitee self-service.
func (s *Service) Renew(ctx context.Context, id string) (*Invite, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := inv.RenewableAt(now); err != nil {
		return nil, err
	}
	return s.store.Renew(ctx, inv.ID, now.Add(s.firstWindow))
}

// ExpireOld flips every pending invite past its window to expired and
// records an invite_expired event per invite, stamped with the invite's
// expiry rather than the sweep time. The sweep is a read optimization; no
// transition logic depends on it having run. Returns the flip count.
func (s *Service) ExpireOld(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireOld(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, inv := range expired {
		s.recordInviteEvent(events.TypeInviteExpired, inv, inv.ExpiresAt)
	}
	return len(expired), nil
}

// Get returns an invite by ID.
func (s *Service) Get(ctx context.Context, id string) (*Invite, error) {
	return s.store.GetByID(ctx, id)
}

// List returns invites matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Invite, error) {
	return s.store.List(ctx, f)
}

func (s *Service) recordInviteEvent(t events.Type, inv *Invite, ts time.Time) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(events.Event{
		Type:      t,
		EntityID:  inv.ID,
		Timestamp: ts,
		Metadata: map[string]string{
			"scope_kind": string(inv.Scope.Kind),
			"scope_id":   inv.Scope.ID,
		},
	})
}

func (s *Service) sendInviteMail(ctx context.Context, inv *Invite) {
	name := ""
	if s.namer != nil {
		n, err := s.namer.DisplayName(ctx, inv.Scope)
		if err != nil {
			slog.Error("failed to resolve invite scope name", "invite_id", inv.ID, "error", err)
		} else {
			name = n
		}
	}
	if err := s.mail.SendInvite(ctx, mailer.InviteMail{
		To:        inv.Email,
		ScopeName: name,
		ScopeKind: string(inv.Scope.Kind),
		Role:      string(inv.Role),
		Token:     inv.Token,
	}); err != nil {
		slog.Error("failed to send invite email", "invite_id", inv.ID, "error", err)
	}
}

// validateInviteScope restricts invites to organisation and team scopes.
func validateInviteScope(scope membership.Scope) error {
	if scope.ID == "" {
		return ErrScopeInvalid
	}
	if scope.Kind != membership.ScopeOrganisation && scope.Kind != membership.ScopeTeam {
		return ErrScopeInvalid
	}
	return nil
}

// normalizeEmail lowercases and validates an invitee address.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmailInvalid
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrEmailInvalid
	}
	return email, nil
}

// newToken generates an opaque unique invite credential: "dkt_" followed by
// 32 URL-safe random characters.
func newToken() (string, error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite token: %w", err)
	}
	return "dkt_" + base64.RawURLEncoding.EncodeToString(b), nil
}
