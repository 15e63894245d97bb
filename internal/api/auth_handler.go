package api

import (
	"net/http"
	"strings"

	"github.com/dockethq/docket/internal/auth"
	"github.com/dockethq/docket/internal/user"
)

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	store   *user.Store
	metrics authMetrics
}

// authMetrics is the slice of telemetry.Metrics this handler needs.
type authMetrics interface {
	IncAuthSuccess(authType string)
	IncAuthFailure(authType string)
}

func newAuthHandler(store *user.Store, metrics authMetrics) *authHandler {
	return &authHandler{store: store, metrics: metrics}
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "failed to parse request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	p, err := h.store.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.metrics.IncAuthFailure("password")
		writeFail(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if !user.CheckPassword(p, req.Password) {
		h.metrics.IncAuthFailure("password")
		writeFail(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, _, err := h.store.CreateSession(r.Context(), p.ID)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.metrics.IncAuthSuccess("password")
	auditLog(r, "login", "profile", p.ID)
	writeResult(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"profile": map[string]interface{}{
			"id":    p.ID,
			"email": p.Email,
			"name":  p.Name,
			"role":  p.Role,
		},
	})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeFail(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	writeResult(w, http.StatusOK, map[string]interface{}{
		"id":    p.ID,
		"email": p.Email,
		"name":  p.Name,
		"role":  p.Role,
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_ = h.store.DeleteSession(r.Context(), token)
	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}
