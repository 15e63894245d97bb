package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/mailer"
	"github.com/dockethq/docket/internal/membership"
)

// fakeStore implements Storage in memory with the same conditional-update
// semantics as the SQL store.
type fakeStore struct {
	nextID      int
	invites     map[string]*Invite
	memberships []*membership.Membership
	replaceErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{invites: make(map[string]*Invite)}
}

func (f *fakeStore) Create(_ context.Context, in CreateInput) (*Invite, error) {
	f.nextID++
	inv := &Invite{
		ID:        fmt.Sprintf("inv-%d", f.nextID),
		Email:     in.Email,
		Role:      in.Role,
		Scope:     in.Scope,
		Token:     in.Token,
		Status:    StatusPending,
		ExpiresAt: in.ExpiresAt,
		CreatedAt: time.Now(),
	}
	f.invites[inv.ID] = inv
	return copyInvite(inv), nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*Invite, error) {
	inv, ok := f.invites[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInvite(inv), nil
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*Invite, error) {
	for _, inv := range f.invites {
		if inv.Token == token {
			return copyInvite(inv), nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) List(_ context.Context, filter ListFilter) ([]*Invite, error) {
	var out []*Invite
	for _, inv := range f.invites {
		if filter.Email != "" && inv.Email != filter.Email {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.Scope.ID != "" && inv.Scope != filter.Scope {
			continue
		}
		out = append(out, copyInvite(inv))
	}
	return out, nil
}

func (f *fakeStore) Replace(ctx context.Context, in CreateInput) ([]*Invite, *Invite, error) {
	if f.replaceErr != nil {
		return nil, nil, f.replaceErr
	}
	var cancelled []*Invite
	for _, inv := range f.invites {
		if inv.Email == in.Email && inv.Scope == in.Scope &&
			(inv.Status == StatusPending || inv.Status == StatusExpired) {
			inv.Status = StatusCancelled
			cancelled = append(cancelled, copyInvite(inv))
		}
	}
	created, err := f.Create(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return cancelled, created, nil
}

func (f *fakeStore) Accept(_ context.Context, id, principalID string, now time.Time) (*Invite, *membership.Membership, error) {
	inv, ok := f.invites[id]
	if !ok || inv.Status != StatusPending {
		return nil, nil, ErrNotPending
	}
	inv.Status = StatusAccepted
	t := now
	inv.AcceptedAt = &t
	inv.AcceptedBy = principalID

	m := &membership.Membership{
		ID:            fmt.Sprintf("mem-%d", len(f.memberships)+1),
		Role:          inv.Role,
		Scope:         inv.Scope,
		PrincipalKind: membership.PrincipalUser,
		PrincipalID:   principalID,
		CreatedAt:     now,
	}
	f.memberships = append(f.memberships, m)
	return copyInvite(inv), m, nil
}

func (f *fakeStore) Cancel(_ context.Context, id string) (*Invite, error) {
	inv, ok := f.invites[id]
	if !ok || (inv.Status != StatusPending && inv.Status != StatusExpired) {
		return nil, ErrNotTerminal
	}
	inv.Status = StatusCancelled
	return copyInvite(inv), nil
}

func (f *fakeStore) Renew(_ context.Context, id string, expiresAt time.Time) (*Invite, error) {
	inv, ok := f.invites[id]
	if !ok || inv.Status != StatusPending {
		return nil, ErrNotPending
	}
	inv.ExpiresAt = expiresAt
	return copyInvite(inv), nil
}

func (f *fakeStore) ExpireOld(_ context.Context, now time.Time) ([]*Invite, error) {
	var out []*Invite
	for _, inv := range f.invites {
		if inv.Status == StatusPending && inv.ExpiresAt.Before(now) {
			inv.Status = StatusExpired
			out = append(out, copyInvite(inv))
		}
	}
	return out, nil
}

func copyInvite(inv *Invite) *Invite {
	cp := *inv
	return &cp
}

// fakeMailer captures sends and optionally fails.
type fakeMailer struct {
	sent []mailer.InviteMail
	err  error
}

func (f *fakeMailer) SendInvite(_ context.Context, m mailer.InviteMail) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

// fakeRecorder captures recorded events synchronously.
type fakeRecorder struct {
	recorded []events.Event
}

func (f *fakeRecorder) Record(ev events.Event) {
	f.recorded = append(f.recorded, ev)
}

func (f *fakeRecorder) byType(t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range f.recorded {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixedNamer string

func (n fixedNamer) DisplayName(_ context.Context, _ membership.Scope) (string, error) {
	return string(n), nil
}

var (
	orgScope  = membership.Scope{Kind: membership.ScopeOrganisation, ID: "org-1"}
	teamScope = membership.Scope{Kind: membership.ScopeTeam, ID: "team-1"}
)

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeMailer, *fakeRecorder, *time.Time) {
	t.Helper()
	store := newFakeStore()
	mail := &fakeMailer{}
	rec := &fakeRecorder{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, fixedNamer("Acme Legal"), mail, rec)
	svc.now = func() time.Time { return now }
	return svc, store, mail, rec, &now
}

func TestCreate(t *testing.T) {
	svc, _, mail, rec, now := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "Paralegal@Example.COM", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.Email != "paralegal@example.com" {
		t.Errorf("email = %q, want lowercased", inv.Email)
	}
	if inv.Status != StatusPending {
		t.Errorf("status = %q, want pending", inv.Status)
	}
	if want := now.Add(FirstInviteWindow); !inv.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", inv.ExpiresAt, want)
	}
	if !strings.HasPrefix(inv.Token, "dkt_") {
		t.Errorf("token = %q, want dkt_ prefix", inv.Token)
	}

	if len(mail.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mail.sent))
	}
	sent := mail.sent[0]
	if sent.To != "paralegal@example.com" || sent.ScopeName != "Acme Legal" || sent.Token != inv.Token {
		t.Errorf("unexpected email payload: %+v", sent)
	}

	created := rec.byType(events.TypeInviteCreated)
	if len(created) != 1 || created[0].EntityID != inv.ID {
		t.Errorf("expected one invite_created event for %s, got %+v", inv.ID, created)
	}
}

func TestConfigureWindows(t *testing.T) {
	svc, _, _, _, now := newTestService(t)
	ctx := context.Background()

	svc.ConfigureWindows(48*time.Hour, 6*time.Hour)

	first, err := svc.Create(ctx, "a@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(48 * time.Hour); !first.ExpiresAt.Equal(want) {
		t.Errorf("first expiresAt = %v, want %v", first.ExpiresAt, want)
	}

	re, err := svc.ReInvite(ctx, "a@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(6 * time.Hour); !re.ExpiresAt.Equal(want) {
		t.Errorf("reinvite expiresAt = %v, want %v", re.ExpiresAt, want)
	}

	// Non-positive values keep the configured windows.
	svc.ConfigureWindows(0, -time.Hour)
	kept, err := svc.Create(ctx, "b@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(48 * time.Hour); !kept.ExpiresAt.Equal(want) {
		t.Errorf("kept expiresAt = %v, want %v", kept.ExpiresAt, want)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		email   string
		scope   membership.Scope
		role    membership.Role
		wantErr error
	}{
		{"malformed email", "not-an-email", orgScope, membership.RoleMember, ErrEmailInvalid},
		{"empty email", "  ", orgScope, membership.RoleMember, ErrEmailInvalid},
		{"case scope", "a@b.co", membership.Scope{Kind: membership.ScopeCase, ID: "c-1"}, membership.RoleMember, ErrScopeInvalid},
		{"missing scope id", "a@b.co", membership.Scope{Kind: membership.ScopeTeam}, membership.RoleMember, ErrScopeInvalid},
		{"unknown role", "a@b.co", teamScope, membership.Role("root"), ErrRoleInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.email, tt.scope, tt.role); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreate_MailFailureDoesNotFailInvite(t *testing.T) {
	svc, _, mail, _, _ := newTestService(t)
	mail.err = errors.New("smtp down")

	inv, err := svc.Create(context.Background(), "a@b.co", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatalf("invite must survive mail failure, got %v", err)
	}
	if inv.Status != StatusPending {
		t.Errorf("status = %q, want pending", inv.Status)
	}
}

func TestReInvite_Deduplicates(t *testing.T) {
	svc, store, _, rec, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	store.invites[b.ID].Status = StatusExpired

	c, err := svc.ReInvite(ctx, "u@example.com", orgScope, membership.RoleAdmin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.invites[a.ID].Status; got != StatusCancelled {
		t.Errorf("invite A status = %q, want cancelled", got)
	}
	if got := store.invites[b.ID].Status; got != StatusCancelled {
		t.Errorf("invite B status = %q, want cancelled", got)
	}
	if c.Status != StatusPending {
		t.Errorf("new invite status = %q, want pending", c.Status)
	}

	// At most one pending invite remains for the (email, scope) pair.
	pending, _ := store.List(ctx, ListFilter{Email: "u@example.com", Status: StatusPending, Scope: orgScope})
	if len(pending) != 1 || pending[0].ID != c.ID {
		t.Errorf("expected exactly the new invite pending, got %+v", pending)
	}

	if got := len(rec.byType(events.TypeInviteDeleted)); got != 2 {
		t.Errorf("expected 2 invite_deleted events, got %d", got)
	}
}

func TestReInvite_FailureLeavesOutstandingInvitesUntouched(t *testing.T) {
	svc, store, mail, rec, _ := newTestService(t)
	ctx := context.Background()

	existing, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	mail.sent = nil
	rec.recorded = nil

	store.replaceErr = errors.New("db down")
	if _, err := svc.ReInvite(ctx, "u@example.com", orgScope, membership.RoleMember); err == nil {
		t.Fatal("expected error from failed re-invite")
	}

	if got := store.invites[existing.ID].Status; got != StatusPending {
		t.Errorf("existing invite status = %q, want pending", got)
	}
	if len(rec.recorded) != 0 {
		t.Errorf("expected no events after failed re-invite, got %d", len(rec.recorded))
	}
	if len(mail.sent) != 0 {
		t.Errorf("expected no mail after failed re-invite, got %d", len(mail.sent))
	}
}

func TestReInvite_UsesShorterWindow(t *testing.T) {
	svc, _, _, _, now := newTestService(t)

	inv, err := svc.ReInvite(context.Background(), "u@example.com", teamScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if want := now.Add(ReinviteWindow); !inv.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", inv.ExpiresAt, want)
	}
}

func TestAccept(t *testing.T) {
	svc, store, _, rec, now := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}

	accepted, m, err := svc.AcceptByToken(ctx, inv.Token, "user-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if accepted.Status != StatusAccepted {
		t.Errorf("status = %q, want accepted", accepted.Status)
	}
	if accepted.AcceptedAt == nil || !accepted.AcceptedAt.Equal(*now) {
		t.Errorf("acceptedAt = %v, want %v", accepted.AcceptedAt, now)
	}
	if accepted.AcceptedBy != "user-9" {
		t.Errorf("acceptedBy = %q, want user-9", accepted.AcceptedBy)
	}

	// The membership copies role and scope from the invite.
	if m.Role != membership.RoleMember || m.Scope != orgScope || m.PrincipalID != "user-9" {
		t.Errorf("unexpected membership: %+v", m)
	}
	if len(store.memberships) != 1 {
		t.Fatalf("expected 1 membership, got %d", len(store.memberships))
	}

	if got := len(rec.byType(events.TypeInviteAccepted)); got != 1 {
		t.Errorf("expected 1 invite_accepted event, got %d", got)
	}
}

func TestAccept_ExpiredByClock(t *testing.T) {
	// Invite created at T with a 72h window; at T+73h acceptance must fail
	// with ErrExpired even though no sweep flipped the stored status.
	svc, store, _, _, now := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}

	*now = now.Add(73 * time.Hour)

	_, _, err = svc.AcceptByToken(ctx, inv.Token, "user-9")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("error = %v, want ErrExpired", err)
	}

	// No partial side effects: status untouched, no membership created.
	if got := store.invites[inv.ID].Status; got != StatusPending {
		t.Errorf("stored status = %q, want pending (sweep owns the flip)", got)
	}
	if len(store.memberships) != 0 {
		t.Errorf("expected no membership, got %d", len(store.memberships))
	}
}

func TestAccept_TerminalStates(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, status := range []Status{StatusAccepted, StatusCancelled, StatusExpired} {
		inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
		if err != nil {
			t.Fatal(err)
		}
		store.invites[inv.ID].Status = status

		if _, _, err := svc.Accept(ctx, inv.ID, "user-9"); !errors.Is(err, ErrNotPending) {
			t.Errorf("accept from %s: error = %v, want ErrNotPending", status, err)
		}
	}
}

func TestAccept_NotFound(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	if _, _, err := svc.AcceptByToken(context.Background(), "dkt_nope", "user-9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestReject(t *testing.T) {
	svc, _, _, rec, _ := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := svc.Reject(ctx, inv.ID, "user-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rejected.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled (reject shares the cancelled state)", rejected.Status)
	}
	if got := len(rec.byType(events.TypeInviteDeleted)); got != 1 {
		t.Errorf("expected 1 invite_deleted event, got %d", got)
	}
}

func TestReject_Expired(t *testing.T) {
	svc, _, _, _, now := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	*now = now.Add(FirstInviteWindow + time.Minute)

	if _, err := svc.Reject(ctx, inv.ID, "user-9"); !errors.Is(err, ErrExpired) {
		t.Errorf("error = %v, want ErrExpired", err)
	}
}

func TestCancel(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		status  Status
		wantErr error
	}{
		{"pending is cancellable", StatusPending, nil},
		{"expired is cancellable", StatusExpired, nil},
		{"accepted is terminal", StatusAccepted, ErrNotTerminal},
		{"cancelled is terminal", StatusCancelled, ErrNotTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
			if err != nil {
				t.Fatal(err)
			}
			store.invites[inv.ID].Status = tt.status

			got, err := svc.Cancel(ctx, inv.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.Status != StatusCancelled {
				t.Errorf("status = %q, want cancelled", got.Status)
			}
		})
	}
}

func TestRenew(t *testing.T) {
	svc, store, _, _, now := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	oldToken := store.invites[inv.ID].Token

	// Move past the original window; the invite is logically expired but the
	// stored flag still says pending, so an admin renew un-expires it.
	*now = now.Add(FirstInviteWindow + 12*time.Hour)

	renewed, err := svc.Renew(ctx, inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(FirstInviteWindow); !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", renewed.ExpiresAt, want)
	}
	if renewed.Status != StatusPending {
		t.Errorf("status = %q, want pending", renewed.Status)
	}
	if renewed.Token != oldToken {
		t.Error("renew must not rotate the token")
	}

	// The renewed invite is acceptable again.
	if _, _, err := svc.Accept(ctx, inv.ID, "user-9"); err != nil {
		t.Errorf("accept after renew failed: %v", err)
	}
}

func TestRenew_RequiresStoredPending(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, status := range []Status{StatusExpired, StatusAccepted, StatusCancelled} {
		inv, err := svc.Create(ctx, "u@example.com", orgScope, membership.RoleMember)
		if err != nil {
			t.Fatal(err)
		}
		store.invites[inv.ID].Status = status

		if _, err := svc.Renew(ctx, inv.ID); !errors.Is(err, ErrNotPending) {
			t.Errorf("renew from %s: error = %v, want ErrNotPending", status, err)
		}
	}
}

func TestExpireOld(t *testing.T) {
	svc, store, _, rec, now := newTestService(t)
	ctx := context.Background()

	stale, err := svc.Create(ctx, "old@example.com", orgScope, membership.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "fresh@example.com", orgScope, membership.RoleMember); err != nil {
		t.Fatal(err)
	}
	staleExpiry := now.Add(-time.Hour)
	store.invites[stale.ID].ExpiresAt = staleExpiry

	n, err := svc.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired count = %d, want 1", n)
	}
	if got := store.invites[stale.ID].Status; got != StatusExpired {
		t.Errorf("stale invite status = %q, want expired", got)
	}

	// The event is stamped with the invite's expiry, not the sweep time.
	expired := rec.byType(events.TypeInviteExpired)
	if len(expired) != 1 {
		t.Fatalf("expected 1 invite_expired event, got %d", len(expired))
	}
	if !expired[0].Timestamp.Equal(staleExpiry) {
		t.Errorf("event timestamp = %v, want business time %v", expired[0].Timestamp, staleExpiry)
	}

	// Idempotent: a second sweep finds nothing.
	n, err = svc.ExpireOld(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second sweep expired %d, want 0", n)
	}
}
