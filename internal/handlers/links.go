package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/middleware"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/careconnectpt/link-service/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LinkHandler exposes the link management surface.
type LinkHandler struct {
	links  *services.LinkService
	audits repository.AuditStore
}

// NewLinkHandler creates a new link handler.
func NewLinkHandler(links *services.LinkService, audits repository.AuditStore) *LinkHandler {
	return &LinkHandler{links: links, audits: audits}
}

func (h *LinkHandler) kindFromURL(r *http.Request) (models.LinkKind, bool) {
	return models.ParseLinkKind(chi.URLParam(r, "kind"))
}

func (h *LinkHandler) linkIDFromURL(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// canManage applies the role rules of the management surface: family members
// can never create links (not even their own); caregiver links are managed by
// caregivers and admins; family links by patients, caregivers and admins.
func canManage(identity models.Identity, kind models.LinkKind) bool {
	switch kind {
	case models.LinkKindCaregiver:
		return identity.Role == models.RoleCaregiver || identity.Role == models.RoleAdmin
	case models.LinkKindFamily:
		return identity.Role != models.RoleFamilyMember
	}
	return false
}

// Create creates a link.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}

	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}

	if !canManage(identity, kind) {
		writeError(w, apperrors.Forbidden("role may not create links of this kind"))
		return
	}

	var req models.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("invalid request body"))
		return
	}

	linkType := models.LinkTypePermanent
	if req.LinkType != "" {
		lt, ok := models.ParseLinkType(req.LinkType)
		if !ok {
			writeError(w, apperrors.InvalidArgument("unknown link type: "+req.LinkType))
			return
		}
		linkType = lt
	}

	// A caregiver or family member creating a link is the subject by default.
	subjectID := req.SubjectUserID
	if subjectID == uuid.Nil {
		subjectID = identity.UserID
	}

	link, err := h.links.CreateLink(ctx, kind, identity.UserID, subjectID, req.PatientUserID, linkType, req.ExpiresAt, req.Notes, req.Relationship)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, link.ToResponse(h.links.Now()))
}

// List returns the caller's view of links: caregivers and family members see
// links granted to them, patients see links governing them, admins see all.
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}

	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}

	var (
		links []models.Link
		err   error
	)
	switch identity.Role {
	case models.RoleCaregiver, models.RoleFamilyMember:
		links, err = h.links.ListBySubject(ctx, kind, identity.UserID)
	case models.RolePatient:
		links, err = h.links.ListByPatient(ctx, kind, identity.UserID)
	case models.RoleAdmin:
		links, err = h.links.ListAll(ctx, kind)
	default:
		writeError(w, apperrors.Forbidden("role may not list links"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.links.Now()
	out := make([]models.LinkResponse, 0, len(links))
	for i := range links {
		out = append(out, links[i].ToResponse(now))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get retrieves one link.
func (h *LinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}
	id, err := h.linkIDFromURL(r)
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid link id"))
		return
	}

	link, err := h.links.GetLink(ctx, kind, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, link.ToResponse(h.links.Now()))
}

// Update patches mutable link fields.
func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}
	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}
	id, err := h.linkIDFromURL(r)
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid link id"))
		return
	}

	var req models.UpdateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("invalid request body"))
		return
	}

	link, err := h.links.UpdateLink(ctx, kind, id, req, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, link.ToResponse(h.links.Now()))
}

// Suspend suspends an active link.
func (h *LinkHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.links.Suspend)
}

// Reactivate restores a suspended link.
func (h *LinkHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.links.Reactivate)
}

func (h *LinkHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, kind models.LinkKind, id, actorID uuid.UUID) (*models.Link, error)) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}
	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}
	id, err := h.linkIDFromURL(r)
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid link id"))
		return
	}

	link, err := op(ctx, kind, id, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, link.ToResponse(h.links.Now()))
}

// Revoke revokes a link. Responds 204 even when the link was already revoked;
// revocation is idempotent.
func (h *LinkHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}
	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}
	id, err := h.linkIDFromURL(r)
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid link id"))
		return
	}

	if err := h.links.Revoke(ctx, kind, id, identity.UserID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Extend moves a link's expiry forward.
func (h *LinkHandler) Extend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		writeError(w, apperrors.Unauthenticated("caller identity missing"))
		return
	}
	kind, ok := h.kindFromURL(r)
	if !ok {
		writeError(w, apperrors.InvalidArgument("unknown link kind"))
		return
	}
	id, err := h.linkIDFromURL(r)
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid link id"))
		return
	}

	var req models.ExtendExpirationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("invalid request body"))
		return
	}

	link, err := h.links.ExtendExpiration(ctx, kind, id, req.NewExpiresAt, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, link.ToResponse(h.links.Now()))
}

// Audit returns the lifecycle audit trail of a link.
func (h *LinkHandler) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.linkIDFromURL(r)
	if err != nil {
		writeError(w, apperrors.InvalidArgument("invalid link id"))
		return
	}

	entries, err := h.audits.ListByLink(ctx, id, 100, 0)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list audit entries")
		writeError(w, apperrors.StoreUnavailable(err))
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
