package middleware

import (
	"net/http"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RequirePatientAccess guards any patient-scoped route. It reads the
// {patientID} URL parameter, runs the authorization gateway with the caller
// identity from context, and rejects the request unless access is granted.
// Store failures deny (fail closed) and surface as 503 so callers can retry.
func RequirePatientAccess(authz *services.AuthzService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
			if err != nil {
				http.Error(w, "Invalid patient ID", http.StatusBadRequest)
				return
			}

			decision, err := authz.Authorize(r.Context(), identity, patientID)
			if err != nil && apperrors.Is(err, apperrors.CodeStoreUnavailable) {
				log.Error().Err(err).Msg("Authorization check failed; denying")
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
			if !decision.Allowed {
				http.Error(w, "Forbidden: "+decision.Reason, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
