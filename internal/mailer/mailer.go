// Package mailer defines the outbound invite email collaborator. Delivery is
// fire and forget: callers log failures and never fail the triggering action.
package mailer

import (
	"context"
	"log/slog"
)

// InviteMail carries everything the invite email template needs.
type InviteMail struct {
	To        string // recipient address, lowercase
	ScopeName string // display name of the organisation or team
	ScopeKind string // "organisation" or "team", for template wording
	Role      string // role the invitee will receive on acceptance
	Token     string // opaque acceptance credential embedded in the link
}

// Sender delivers invite emails.
type Sender interface {
	SendInvite(ctx context.Context, m InviteMail) error
}

// LogSender is a Sender that only writes a structured log line. It is the
// default in development and test environments, and the seam where a real
// delivery provider plugs in.
type LogSender struct{}

// SendInvite logs the invite instead of delivering it. The token is logged
// deliberately so local flows can be completed by hand.
func (LogSender) SendInvite(_ context.Context, m InviteMail) error {
	slog.Info("invite email",
		"to", m.To,
		"scope_name", m.ScopeName,
		"scope_kind", m.ScopeKind,
		"role", m.Role,
		"token", m.Token,
	)
	return nil
}
