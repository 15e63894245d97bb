package events

import "time"

// Type tags a lifecycle event with the entity and transition it records.
type Type string

const (
	TypeOrganisationCreated Type = "organization_created"
	TypeOrganisationDeleted Type = "organization_deleted"
	TypeTeamCreated         Type = "team_created"
	TypeTeamDeleted         Type = "team_deleted"
	TypeUserProfileCreated  Type = "user_profile_created"
	TypeUserProfileDeleted  Type = "user_profile_deleted"
	TypeInviteCreated       Type = "invite_created"
	TypeInviteAccepted      Type = "invite_accepted"
	TypeInviteExpired       Type = "invite_expired"
	TypeInviteDeleted       Type = "invite_deleted"
	TypeCaseCreated         Type = "case_created"
	TypeCaseDeleted         Type = "case_deleted"
)

// Event is one immutable entry in the lifecycle ledger. Timestamp is the
// business event time, not the insertion time: an invite_expired event is
// stamped with the invite's expiry, not the moment the sweep noticed it.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	EntityID  string            `json:"entity_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DayStat is one calendar-day bucket in an aggregated series. Total is the
// running net count seeded from zero at the window start.
type DayStat struct {
	Date    time.Time `json:"date"`
	Created int       `json:"created"`
	Deleted int       `json:"deleted"`
	Total   int       `json:"total"`
}
