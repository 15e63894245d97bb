package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dockethq/docket/internal/access"
	"github.com/dockethq/docket/internal/auth"
	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/user"
)

// eventRecorder is the slice of events.Recorder the handlers need.
type eventRecorder interface {
	Record(ev events.Event)
}

// profilesHandler groups profile management HTTP handlers.
type profilesHandler struct {
	store    *user.Store
	access   *access.Evaluator
	recorder eventRecorder
}

func newProfilesHandler(store *user.Store, evaluator *access.Evaluator, recorder eventRecorder) *profilesHandler {
	return &profilesHandler{store: store, access: evaluator, recorder: recorder}
}

// CreateProfile handles POST /api/v1/admin/profiles.
func (h *profilesHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req user.CreateProfileInput
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	if req.Email == "" {
		writeFail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	if req.Password == "" {
		writeFail(w, http.StatusUnprocessableEntity, "password is required")
		return
	}
	if req.Role != "" && req.Role != user.RoleSuperadmin && req.Role != user.RoleMember {
		writeFail(w, http.StatusUnprocessableEntity, "role must be superadmin or member")
		return
	}

	p, err := h.store.Create(r.Context(), req)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	h.recorder.Record(events.Event{
		Type:      events.TypeUserProfileCreated,
		EntityID:  p.ID,
		Timestamp: p.CreatedAt,
	})
	auditLog(r, "create", "profile", p.ID)
	writeResult(w, http.StatusCreated, p)
}

// ListProfiles handles GET /api/v1/admin/profiles.
func (h *profilesHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.List(r.Context())
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}

	if profiles == nil {
		profiles = []*user.Profile{}
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
	})
}

// GetProfile handles GET /api/v1/profiles/{id}. Visibility follows the
// access evaluator: self, superadmin, or a shared organisation or team.
func (h *profilesHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller := auth.PrincipalFromContext(r.Context())
	if caller == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if !h.access.CanView(r.Context(), caller.ID, id) {
		writeFail(w, http.StatusForbidden, "you do not have access to this profile")
		return
	}

	p, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "profile not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to get profile")
		return
	}

	writeResult(w, http.StatusOK, p)
}

// DeleteProfile handles DELETE /api/v1/admin/profiles/{id}.
func (h *profilesHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "profile not found")
			return
		}
		writeFail(w, http.StatusInternalServerError, "failed to get profile")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to delete profile")
		return
	}

	h.recorder.Record(events.Event{
		Type:      events.TypeUserProfileDeleted,
		EntityID:  id,
		Timestamp: time.Now(),
	})
	auditLog(r, "delete", "profile", id)
	w.WriteHeader(http.StatusNoContent)
}
