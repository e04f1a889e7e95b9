package handlers

import (
	"net/http"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/middleware"
	"github.com/careconnectpt/link-service/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AccessHandler exposes the authorization probe: the same decision the
// RequirePatientAccess guard enforces, returned as a body so clients can
// check before navigating.
type AccessHandler struct {
	authz *services.AuthzService
}

// NewAccessHandler creates a new access handler.
func NewAccessHandler(authz *services.AuthzService) *AccessHandler {
	return &AccessHandler{authz: authz}
}

// Check evaluates whether the caller may access the given patient's data.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}

	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid patient id"))
		return
	}

	decision, err := h.authz.Authorize(ctx, identity, patientID)
	if err != nil {
		// Fail closed: the decision already denies, surface the store error.
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}
