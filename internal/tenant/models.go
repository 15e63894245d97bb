package tenant

import (
	"errors"
	"strings"
	"time"
)

// Errors returned by tenant operations.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrNameRequired  = errors.New("name is required")
	ErrTitleRequired = errors.New("title is required")
)

// Organisation is the top-level tenancy unit.
type Organisation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Team is a working group inside an organisation.
type Team struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Case is a unit of work owned by a team.
type Case struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is an external party of an organisation. Client principals hold
// memberships through client-team links rather than user profiles.
type Client struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	return nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrTitleRequired
	}
	return nil
}
