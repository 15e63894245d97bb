package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dockethq/docket/internal/access"
	"github.com/dockethq/docket/internal/auth"
	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/tenant"
)

// tenantsHandler groups organisation, team, case and client HTTP handlers.
type tenantsHandler struct {
	service *tenant.Service
	store   *tenant.Store
	access  *access.Evaluator
}

func newTenantsHandler(service *tenant.Service, store *tenant.Store, evaluator *access.Evaluator) *tenantsHandler {
	return &tenantsHandler{service: service, store: store, access: evaluator}
}

// CreateOrganisation handles POST /api/v1/organisations. The caller becomes
// the organisation's owner.
func (h *tenantsHandler) CreateOrganisation(w http.ResponseWriter, r *http.Request) {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	org, m, err := h.service.CreateOrganisation(r.Context(), req.Name, caller.ID)
	if err != nil {
		if errors.Is(err, tenant.ErrNameRequired) {
			writeFail(w, http.StatusUnprocessableEntity, "name is required")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to create organisation")
		return
	}

	auditLog(r, "create", "organisation", org.ID)
	writeResult(w, http.StatusCreated, map[string]interface{}{
		"organisation": org,
		"membership":   m,
	})
}

// GetOrganisation handles GET /api/v1/organisations/{id}.
func (h *tenantsHandler) GetOrganisation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	org, err := h.store.GetOrganisation(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "organisation not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to get organisation")
		return
	}

	writeResult(w, http.StatusOK, org)
}

// DeleteOrganisation handles DELETE /api/v1/organisations/{id}. Requires
// management rights over the organisation.
func (h *tenantsHandler) DeleteOrganisation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scope := membership.Scope{Kind: membership.ScopeOrganisation, ID: id}
	if !h.requireManage(w, r, scope) {
		return
	}

	if err := h.service.DeleteOrganisation(r.Context(), id); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "organisation not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to delete organisation")
		return
	}

	auditLog(r, "delete", "organisation", id)
	w.WriteHeader(http.StatusNoContent)
}

// CreateTeam handles POST /api/v1/organisations/{id}/teams. The caller must
// manage the organisation and becomes the team's owner.
func (h *tenantsHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "id")
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	scope := membership.Scope{Kind: membership.ScopeOrganisation, ID: orgID}
	if !h.access.CanManage(r.Context(), caller.ID, scope) {
		writeFail(w, http.StatusForbidden, "you do not manage this organisation")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	team, m, err := h.service.CreateTeam(r.Context(), orgID, req.Name, caller.ID)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrNameRequired):
			writeFail(w, http.StatusUnprocessableEntity, "name is required")
		case errors.Is(err, tenant.ErrNotFound):
			writeFail(w, http.StatusNotFound, "organisation not found")
		default:
			writeFail(w, http.StatusInternalServerError, "failed to create team")
		}
		return
	}

	auditLog(r, "create", "team", team.ID, "organisation_id", orgID)
	writeResult(w, http.StatusCreated, map[string]interface{}{
		"team":       team,
		"membership": m,
	})
}

// ListTeams handles GET /api/v1/organisations/{id}/teams.
func (h *tenantsHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "id")

	teams, err := h.store.ListTeamsByOrganisation(r.Context(), orgID)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to list teams")
		return
	}
	if teams == nil {
		teams = []*tenant.Team{}
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"teams": teams,
	})
}

// DeleteTeam handles DELETE /api/v1/teams/{id}. Requires management rights
// over the team.
func (h *tenantsHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scope := membership.Scope{Kind: membership.ScopeTeam, ID: id}
	if !h.requireManage(w, r, scope) {
		return
	}

	if err := h.service.DeleteTeam(r.Context(), id); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "team not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to delete team")
		return
	}

	auditLog(r, "delete", "team", id)
	w.WriteHeader(http.StatusNoContent)
}

// CreateCase handles POST /api/v1/teams/{id}/cases. Requires management
// rights over the team.
func (h *tenantsHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "id")
	scope := membership.Scope{Kind: membership.ScopeTeam, ID: teamID}
	if !h.requireManage(w, r, scope) {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	c, err := h.service.CreateCase(r.Context(), teamID, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrTitleRequired):
			writeFail(w, http.StatusUnprocessableEntity, "title is required")
		case errors.Is(err, tenant.ErrNotFound):
			writeFail(w, http.StatusNotFound, "team not found")
		default:
			writeFail(w, http.StatusInternalServerError, "failed to create case")
		}
		return
	}

	auditLog(r, "create", "case", c.ID, "team_id", teamID)
	writeResult(w, http.StatusCreated, c)
}

// ListCases handles GET /api/v1/teams/{id}/cases.
func (h *tenantsHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "id")

	cases, err := h.store.ListCasesByTeam(r.Context(), teamID)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	if cases == nil {
		cases = []*tenant.Case{}
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"cases": cases,
	})
}

// DeleteCase handles DELETE /api/v1/cases/{id}. Management rights over the
// owning team are required; cases have no owners of their own.
func (h *tenantsHandler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.store.GetCase(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "case not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to get case")
		return
	}

	scope := membership.Scope{Kind: membership.ScopeTeam, ID: c.TeamID}
	if !h.requireManage(w, r, scope) {
		return
	}

	if err := h.service.DeleteCase(r.Context(), id); err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to delete case")
		return
	}

	auditLog(r, "delete", "case", id)
	w.WriteHeader(http.StatusNoContent)
}

// CreateClient handles POST /api/v1/organisations/{id}/clients. Requires
// management rights over the organisation.
func (h *tenantsHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "id")
	scope := membership.Scope{Kind: membership.ScopeOrganisation, ID: orgID}
	if !h.requireManage(w, r, scope) {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	c, err := h.service.CreateClient(r.Context(), orgID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrNameRequired):
			writeFail(w, http.StatusUnprocessableEntity, "name is required")
		case errors.Is(err, tenant.ErrNotFound):
			writeFail(w, http.StatusNotFound, "organisation not found")
		default:
			writeFail(w, http.StatusInternalServerError, "failed to create client")
		}
		return
	}

	auditLog(r, "create", "client", c.ID, "organisation_id", orgID)
	writeResult(w, http.StatusCreated, c)
}

// requireManage writes a 401/403 and returns false unless the caller can
// manage the given scope.
func (h *tenantsHandler) requireManage(w http.ResponseWriter, r *http.Request, scope membership.Scope) bool {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return false
	}
	if !h.access.CanManage(r.Context(), caller.ID, scope) {
		writeFail(w, http.StatusForbidden, "you do not manage this scope")
		return false
	}
	return true
}
