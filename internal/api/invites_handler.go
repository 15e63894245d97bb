package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dockethq/docket/internal/access"
	"github.com/dockethq/docket/internal/auth"
	"github.com/dockethq/docket/internal/invite"
	"github.com/dockethq/docket/internal/membership"
)

// invitesHandler groups invite lifecycle HTTP handlers.
type invitesHandler struct {
	service *invite.Service
	access  *access.Evaluator
	metrics inviteMetrics
}

// inviteMetrics is the slice of telemetry.Metrics this handler needs.
type inviteMetrics interface {
	IncInviteTransition(transition string)
}

func newInvitesHandler(service *invite.Service, evaluator *access.Evaluator, metrics inviteMetrics) *invitesHandler {
	return &invitesHandler{service: service, access: evaluator, metrics: metrics}
}

type inviteRequest struct {
	Email string           `json:"email"`
	Scope membership.Scope `json:"scope"`
	Role  membership.Role  `json:"role"`
}

// CreateInvite handles POST /api/v1/invites. Requires management rights over
// the target scope.
func (h *invitesHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	if !h.requireManage(w, r, req.Scope) {
		return
	}

	inv, err := h.service.Create(r.Context(), req.Email, req.Scope, req.Role)
	if err != nil {
		h.writeInviteError(w, err, "failed to create invite")
		return
	}

	h.metrics.IncInviteTransition("created")
	auditLog(r, "create", "invite", inv.ID,
		"scope_kind", string(inv.Scope.Kind), "scope_id", inv.Scope.ID)
	writeResult(w, http.StatusCreated, inv)
}

// ReInvite handles POST /api/v1/invites/reinvite. Outstanding invites for
// the same email and scope are cancelled first.
func (h *invitesHandler) ReInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	if !h.requireManage(w, r, req.Scope) {
		return
	}

	inv, err := h.service.ReInvite(r.Context(), req.Email, req.Scope, req.Role)
	if err != nil {
		h.writeInviteError(w, err, "failed to re-invite")
		return
	}

	h.metrics.IncInviteTransition("created")
	auditLog(r, "reinvite", "invite", inv.ID,
		"scope_kind", string(inv.Scope.Kind), "scope_id", inv.Scope.ID)
	writeResult(w, http.StatusCreated, inv)
}

// ListInvites handles GET /api/v1/invites. Requires management rights over
// the scope named in the filter.
func (h *invitesHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := invite.ListFilter{
		Scope: membership.Scope{
			Kind: membership.ScopeKind(q.Get("scope_kind")),
			ID:   q.Get("scope_id"),
		},
		Email:  q.Get("email"),
		Status: invite.Status(q.Get("status")),
	}

	if !f.Scope.Valid() {
		writeFail(w, http.StatusUnprocessableEntity, "scope_kind and scope_id are required")
		return
	}
	if !h.requireManage(w, r, f.Scope) {
		return
	}

	invites, err := h.service.List(r.Context(), f)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to list invites")
		return
	}
	if invites == nil {
		invites = []*invite.Invite{}
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"invites": invites,
	})
}

// AcceptInvite handles POST /api/v1/invites/accept. The caller redeems an
// invite token and receives the promised membership.
func (h *invitesHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	if req.Token == "" {
		writeFail(w, http.StatusUnprocessableEntity, "token is required")
		return
	}

	inv, m, err := h.service.AcceptByToken(r.Context(), req.Token, caller.ID)
	if err != nil {
		h.writeInviteError(w, err, "failed to accept invite")
		return
	}

	h.metrics.IncInviteTransition("accepted")
	auditLog(r, "accept", "invite", inv.ID,
		"scope_kind", string(inv.Scope.Kind), "scope_id", inv.Scope.ID)
	writeResult(w, http.StatusOK, map[string]interface{}{
		"invite":     inv,
		"membership": m,
	})
}

// RejectInvite handles POST /api/v1/invites/{id}/reject: the invitee
// declines a pending invite.
func (h *invitesHandler) RejectInvite(w http.ResponseWriter, r *http.Request) {
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	id := chi.URLParam(r, "id")

	inv, err := h.service.Reject(r.Context(), id, caller.ID)
	if err != nil {
		h.writeInviteError(w, err, "failed to reject invite")
		return
	}

	h.metrics.IncInviteTransition("deleted")
	auditLog(r, "reject", "invite", inv.ID)
	writeResult(w, http.StatusOK, inv)
}

// CancelInvite handles POST /api/v1/invites/{id}/cancel. Requires management
// rights over the invite's scope.
func (h *invitesHandler) CancelInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.requireManageInvite(w, r, id) {
		return
	}

	inv, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.writeInviteError(w, err, "failed to cancel invite")
		return
	}

	h.metrics.IncInviteTransition("deleted")
	auditLog(r, "cancel", "invite", inv.ID)
	writeResult(w, http.StatusOK, inv)
}

// RenewInvite handles POST /api/v1/invites/{id}/renew. Requires management
// rights over the invite's scope.
func (h *invitesHandler) RenewInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.requireManageInvite(w, r, id) {
		return
	}

	inv, err := h.service.Renew(r.Context(), id)
	if err != nil {
		h.writeInviteError(w, err, "failed to renew invite")
		return
	}

	h.metrics.IncInviteTransition("renewed")
	auditLog(r, "renew", "invite", inv.ID)
	writeResult(w, http.StatusOK, inv)
}

// requireManageInvite loads the invite and verifies the caller manages its
// scope, writing the failure response itself when not.
func (h *invitesHandler) requireManageInvite(w http.ResponseWriter, r *http.Request, id string) bool {
	existing, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeInviteError(w, err, "failed to get invite")
		return false
	}
	return h.requireManage(w, r, existing.Scope)
}

func (h *invitesHandler) requireManage(w http.ResponseWriter, r *http.Request, scope membership.Scope) bool {
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

// writeInviteError maps invite sentinel errors to HTTP statuses.
func (h *invitesHandler) writeInviteError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, invite.ErrNotFound):
		writeFail(w, http.StatusNotFound, "invite not found")
	case errors.Is(err, invite.ErrExpired):
		writeFail(w, http.StatusGone, "invite has expired")
	case errors.Is(err, invite.ErrNotPending):
		writeFail(w, http.StatusConflict, "invite is not pending")
	case errors.Is(err, invite.ErrNotTerminal):
		writeFail(w, http.StatusConflict, "invite is already accepted or cancelled")
	case errors.Is(err, invite.ErrEmailInvalid):
		writeFail(w, http.StatusUnprocessableEntity, "email address is invalid")
	case errors.Is(err, invite.ErrScopeInvalid):
		writeFail(w, http.StatusUnprocessableEntity, "invite scope must be an organisation or a team")
	case errors.Is(err, invite.ErrRoleInvalid):
		writeFail(w, http.StatusUnprocessableEntity, "role must be one of: owner, admin, member, assignee, client")
	case errors.Is(err, membership.ErrDuplicate):
		writeFail(w, http.StatusConflict, "you already have a membership in this scope")
	default:
		writeFail(w, http.StatusInternalServerError, fallback)
	}
}
