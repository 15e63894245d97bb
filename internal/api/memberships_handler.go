package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dockethq/docket/internal/access"
	"github.com/dockethq/docket/internal/auth"
	"github.com/dockethq/docket/internal/membership"
)

// membershipStore is the slice of membership.Store this handler needs.
type membershipStore interface {
	List(ctx context.Context, f membership.ListFilter) ([]*membership.Membership, error)
	Create(ctx context.Context, in membership.CreateMembershipInput) (*membership.Membership, error)
	GetByID(ctx context.Context, id string) (*membership.Membership, error)
	UpdateRole(ctx context.Context, id string, role membership.Role) (*membership.Membership, error)
	Remove(ctx context.Context, id string) error
}

// membershipsHandler groups membership management HTTP handlers.
type membershipsHandler struct {
	store   membershipStore
	access  *access.Evaluator
	metrics accessMetrics
}

// accessMetrics is the slice of telemetry.Metrics this handler needs.
type accessMetrics interface {
	IncAccessDecision(check string, allowed bool)
}

func newMembershipsHandler(store membershipStore, evaluator *access.Evaluator, metrics accessMetrics) *membershipsHandler {
	return &membershipsHandler{store: store, access: evaluator, metrics: metrics}
}

// ListMemberships handles GET /api/v1/memberships. An omitted principal_id
// resolves to the caller, so a bare request lists the caller's own
// memberships; listing someone else's requires management rights over the
// scope filter.
func (h *membershipsHandler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	q := r.URL.Query()
	f := membership.ListFilter{
		Kind:        membership.ScopeKind(q.Get("kind")),
		ScopeID:     q.Get("scope_id"),
		PrincipalID: q.Get("principal_id"),
		Role:        membership.Role(q.Get("role")),
	}
	if f.PrincipalID == "" {
		f.PrincipalID = caller.ID
	}

	if f.PrincipalID != caller.ID {
		scope := membership.Scope{Kind: f.Kind, ID: f.ScopeID}
		allowed := scope.Valid() && h.access.CanManage(r.Context(), caller.ID, scope)
		h.metrics.IncAccessDecision("manage", allowed)
		if !allowed {
			writeFail(w, http.StatusForbidden, "you do not manage this scope")
			return
		}
	}

	ms, err := h.store.List(r.Context(), f)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to list memberships")
		return
	}
	if ms == nil {
		ms = []*membership.Membership{}
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"memberships": ms,
	})
}

// CreateMembership handles POST /api/v1/memberships: a direct grant by a
// scope manager, bypassing the invite flow.
func (h *membershipsHandler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req membership.CreateMembershipInput
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	allowed := h.access.CanManage(r.Context(), caller.ID, req.Scope)
	h.metrics.IncAccessDecision("manage", allowed)
	if !allowed {
		writeFail(w, http.StatusForbidden, "you do not manage this scope")
		return
	}

	m, err := h.store.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, membership.ErrInvalidRole):
			writeFail(w, http.StatusUnprocessableEntity, "role must be one of: owner, admin, member, assignee, client")
		case errors.Is(err, membership.ErrInvalidScope):
			writeFail(w, http.StatusUnprocessableEntity, "scope kind and id are required")
		case errors.Is(err, membership.ErrPrincipalRequired):
			writeFail(w, http.StatusUnprocessableEntity, "principal kind and id are required")
		case errors.Is(err, membership.ErrDuplicate):
			writeFail(w, http.StatusConflict, "principal already has a membership in this scope")
		default:
			writeFail(w, http.StatusInternalServerError, "failed to create membership")
		}
		return
	}

	auditLog(r, "create", "membership", m.ID,
		"scope_kind", string(m.Scope.Kind), "scope_id", m.Scope.ID)
	writeResult(w, http.StatusCreated, m)
}

// UpdateMembershipRole handles PUT /api/v1/memberships/{id}/role.
func (h *membershipsHandler) UpdateMembershipRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "membership not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to get membership")
		return
	}

	if !h.requireManage(w, r, existing.Scope) {
		return
	}

	var req struct {
		Role membership.Role `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	m, err := h.store.UpdateRole(r.Context(), id, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, membership.ErrInvalidRole):
			writeFail(w, http.StatusUnprocessableEntity, "role must be one of: owner, admin, member, assignee, client")
		case errors.Is(err, membership.ErrCannotRemoveOwner):
			writeFail(w, http.StatusConflict, "cannot demote the last owner of this scope")
		case errors.Is(err, membership.ErrNotFound):
			writeFail(w, http.StatusNotFound, "membership not found")
		default:
			writeFail(w, http.StatusInternalServerError, "failed to update membership role")
		}
		return
	}

	auditLog(r, "update_role", "membership", id, "role", string(req.Role))
	writeResult(w, http.StatusOK, m)
}

// RemoveMembership handles DELETE /api/v1/memberships/{id}.
func (h *membershipsHandler) RemoveMembership(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "membership not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to get membership")
		return
	}

	if !h.requireManage(w, r, existing.Scope) {
		return
	}

	if err := h.store.Remove(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, membership.ErrCannotRemoveOwner):
			writeFail(w, http.StatusConflict, "cannot remove the last owner of this scope")
		case errors.Is(err, membership.ErrNotFound):
			writeFail(w, http.StatusNotFound, "membership not found")
		default:
			writeFail(w, http.StatusInternalServerError, "failed to remove membership")
		}
		return
	}

	auditLog(r, "remove", "membership", id,
		"scope_kind", string(existing.Scope.Kind), "scope_id", existing.Scope.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *membershipsHandler) requireManage(w http.ResponseWriter, r *http.Request, scope membership.Scope) bool {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return false
	}
	allowed := h.access.CanManage(r.Context(), caller.ID, scope)
	h.metrics.IncAccessDecision("manage", allowed)
	if !allowed {
		writeFail(w, http.StatusForbidden, "you do not manage this scope")
		return false
	}
	return true
}
