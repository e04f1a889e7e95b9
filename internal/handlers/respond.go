package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

// writeError maps typed application errors onto HTTP statuses. Untyped
// errors become opaque 500s so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Msg("Unhandled error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    apperrors.CodeUnknown,
			Message: "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeConflict:
		status = http.StatusConflict
	case apperrors.CodeInvalidTransition:
		status = http.StatusUnprocessableEntity
	case apperrors.CodeExpired:
		status = http.StatusGone
	case apperrors.CodeForbidden:
		status = http.StatusForbidden
	case apperrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperrors.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= 500 {
		log.Error().Err(err).Msg("Request failed")
	}

	writeJSON(w, status, errorResponse{Code: appErr.Code, Message: appErr.Message})
}
