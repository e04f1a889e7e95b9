package handlers

import (
	"net/http"

	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/services"
)

// MaintenanceHandler exposes the manual sweep trigger for operators.
type MaintenanceHandler struct {
	links *services.LinkService
}

// NewMaintenanceHandler creates a new maintenance handler.
func NewMaintenanceHandler(links *services.LinkService) *MaintenanceHandler {
	return &MaintenanceHandler{links: links}
}

type cleanupResponse struct {
	CaregiverLinksExpired int64 `json:"caregiver_links_expired"`
	FamilyLinksExpired    int64 `json:"family_links_expired"`
}

// Cleanup runs the expiry sweep for both link kinds immediately. Idempotent;
// running it twice back-to-back expires nothing on the second run.
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caregiver, err := h.links.CleanupExpired(ctx, models.LinkKindCaregiver)
	if err != nil {
		writeError(w, err)
		return
	}
	family, err := h.links.CleanupExpired(ctx, models.LinkKindFamily)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{
		CaregiverLinksExpired: caregiver,
		FamilyLinksExpired:    family,
	})
}
