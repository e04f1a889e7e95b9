package services

import (
	"context"
	"time"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/cache"
	"github.com/careconnectpt/link-service/internal/metrics"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/notify"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/careconnectpt/link-service/pkg/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LinkService is the sole mutator of link status, expiry and notes. Every
// transition is validated against the current persisted state via a
// compare-and-set in the store, never a stale read.
type LinkService struct {
	links    repository.LinkStore
	users    repository.UserStore
	audits   repository.AuditStore
	cache    cache.Cache // nil disables decision caching
	cacheTTL time.Duration
	notifier notify.Notifier
	clk      clock.Clock
}

// NewLinkService creates a new link service.
func NewLinkService(
	links repository.LinkStore,
	users repository.UserStore,
	audits repository.AuditStore,
	decisionCache cache.Cache,
	cacheTTL time.Duration,
	notifier notify.Notifier,
	clk clock.Clock,
) *LinkService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &LinkService{
		links:    links,
		users:    users,
		audits:   audits,
		cache:    decisionCache,
		cacheTTL: cacheTTL,
		notifier: notifier,
		clk:      clk,
	}
}

// CreateLink creates an ACTIVE link from subject to patient.
func (s *LinkService) CreateLink(ctx context.Context, kind models.LinkKind, creatorID, subjectID, patientID uuid.UUID, linkType models.LinkType, expiresAt *time.Time, notes, relationship string) (*models.Link, error) {
	now := s.clk.Now()

	if subjectID == patientID {
		return nil, apperrors.InvalidArgument("subject and patient must be different users")
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, apperrors.InvalidArgument("expiry must be in the future")
	}
	if linkType == "" {
		linkType = models.LinkTypePermanent
	}

	if _, err := s.users.GetByID(ctx, subjectID); err != nil {
		return nil, storeErr(err)
	}
	if _, err := s.users.GetByID(ctx, patientID); err != nil {
		return nil, storeErr(err)
	}

	// Pre-check for a friendlier error; the partial unique index still
	// backstops the race between two concurrent creates.
	exists, err := s.links.ExistsActive(ctx, kind, subjectID, patientID)
	if err != nil {
		return nil, storeErr(err)
	}
	if exists {
		return nil, apperrors.Conflict("an active link already exists for this subject and patient")
	}

	link := &models.Link{
		Kind:          kind,
		SubjectUserID: subjectID,
		PatientUserID: patientID,
		LinkType:      linkType,
		Status:        models.LinkStatusActive,
		ExpiresAt:     expiresAt,
		Notes:         notes,
		Relationship:  relationship,
		CreatedBy:     creatorID,
	}

	if err := s.links.Create(ctx, link); err != nil {
		return nil, storeErr(err)
	}

	metrics.LinkOperations.WithLabelValues("create", string(kind)).Inc()
	s.audit(ctx, link, creatorID, models.AuditActionCreate, "", models.LinkStatusActive, "")
	s.invalidateDecision(ctx, link)
	s.publish(ctx, notify.EventLinkCreated, link)

	return link, nil
}

// CreatePermanentLink is the idempotent registration-time helper: when an
// active link already grants access it returns that link instead of Conflict.
func (s *LinkService) CreatePermanentLink(ctx context.Context, kind models.LinkKind, creatorID, subjectID, patientID uuid.UUID, notes string) (*models.Link, error) {
	now := s.clk.Now()

	existing, err := s.links.FindActiveForPair(ctx, kind, subjectID, patientID)
	if err != nil {
		return nil, storeErr(err)
	}
	for i := range existing {
		if existing[i].Grants(now) {
			return &existing[i], nil
		}
	}

	return s.CreateLink(ctx, kind, creatorID, subjectID, patientID, models.LinkTypePermanent, nil, notes, "")
}

// GetLink retrieves a link by kind and id.
func (s *LinkService) GetLink(ctx context.Context, kind models.LinkKind, id uuid.UUID) (*models.Link, error) {
	link, err := s.links.GetByID(ctx, kind, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return link, nil
}

// UpdateLink patches mutable fields. A status change may not leave REVOKED
// and may not enter EXPIRED; EXPIRED is applied by the sweeper only.
func (s *LinkService) UpdateLink(ctx context.Context, kind models.LinkKind, id uuid.UUID, req models.UpdateLinkRequest, actorID uuid.UUID) (*models.Link, error) {
	link, err := s.links.GetByID(ctx, kind, id)
	if err != nil {
		return nil, storeErr(err)
	}

	oldStatus := link.Status
	newStatus := oldStatus

	// Status change and field edits go to the store as one conditional
	// UPDATE so the mutation commits or fails as a whole.
	fields := map[string]interface{}{}
	var from []models.LinkStatus

	if req.Status != nil {
		target, ok := models.ParseLinkStatus(*req.Status)
		if !ok {
			return nil, apperrors.InvalidArgument("unknown link status: " + *req.Status)
		}
		if target == models.LinkStatusExpired {
			return nil, apperrors.InvalidTransition("EXPIRED is applied automatically when the expiry passes")
		}
		if oldStatus == models.LinkStatusRevoked && target != models.LinkStatusRevoked {
			return nil, apperrors.InvalidTransition("a revoked link cannot change status")
		}
		if target != oldStatus {
			fields["status"] = target
			from = []models.LinkStatus{oldStatus}
			newStatus = target
		}
	}
	if req.LinkType != nil {
		lt, ok := models.ParseLinkType(*req.LinkType)
		if !ok {
			return nil, apperrors.InvalidArgument("unknown link type: " + *req.LinkType)
		}
		fields["link_type"] = lt
	}
	if req.ExpiresAt != nil {
		fields["expires_at"] = req.ExpiresAt
	}
	if req.Relationship != nil {
		fields["relationship"] = *req.Relationship
	}
	if req.Notes != nil {
		fields["notes"] = *req.Notes
	}
	if len(fields) > 0 {
		ok, err := s.links.UpdateFields(ctx, kind, id, from, fields)
		if err != nil {
			return nil, storeErr(err)
		}
		if !ok {
			if len(from) > 0 {
				return nil, apperrors.InvalidTransition("link status changed concurrently")
			}
			return nil, apperrors.NotFound("link not found")
		}
	}

	updated, err := s.links.GetByID(ctx, kind, id)
	if err != nil {
		return nil, storeErr(err)
	}

	metrics.LinkOperations.WithLabelValues("update", string(kind)).Inc()
	s.audit(ctx, updated, actorID, models.AuditActionUpdate, oldStatus, newStatus, "")
	s.invalidateDecision(ctx, updated)

	return updated, nil
}

// Suspend temporarily withdraws access. Only an ACTIVE link can be suspended.
func (s *LinkService) Suspend(ctx context.Context, kind models.LinkKind, id uuid.UUID, actorID uuid.UUID) (*models.Link, error) {
	link, err := s.links.GetByID(ctx, kind, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if link.Status != models.LinkStatusActive {
		return nil, apperrors.InvalidTransition("only active links can be suspended")
	}

	ok, err := s.links.TransitionStatus(ctx, kind, id, []models.LinkStatus{models.LinkStatusActive}, models.LinkStatusSuspended)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, apperrors.InvalidTransition("only active links can be suspended")
	}

	link.Status = models.LinkStatusSuspended
	metrics.LinkOperations.WithLabelValues("suspend", string(kind)).Inc()
	s.audit(ctx, link, actorID, models.AuditActionSuspend, models.LinkStatusActive, models.LinkStatusSuspended, "")
	s.invalidateDecision(ctx, link)

	return link, nil
}

// Reactivate restores a SUSPENDED link to ACTIVE. A suspended link whose
// expiry has already passed cannot be reactivated; a new link must be created
// instead.
func (s *LinkService) Reactivate(ctx context.Context, kind models.LinkKind, id uuid.UUID, actorID uuid.UUID) (*models.Link, error) {
	link, err := s.links.GetByID(ctx, kind, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if link.Status != models.LinkStatusSuspended {
		return nil, apperrors.InvalidTransition("only suspended links can be reactivated")
	}
	if link.IsExpired(s.clk.Now()) {
		return nil, apperrors.Expired("link expiry has passed; create a new link instead")
	}

	ok, err := s.links.TransitionStatus(ctx, kind, id, []models.LinkStatus{models.LinkStatusSuspended}, models.LinkStatusActive)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, apperrors.InvalidTransition("only suspended links can be reactivated")
	}

	link.Status = models.LinkStatusActive
	metrics.LinkOperations.WithLabelValues("reactivate", string(kind)).Inc()
	s.audit(ctx, link, actorID, models.AuditActionReactivate, models.LinkStatusSuspended, models.LinkStatusActive, "")
	s.invalidateDecision(ctx, link)

	return link, nil
}

// Revoke terminates a link permanently. Revoking an already revoked link is a
// no-op so cleanup sweeps can race a manual revoke without erroring.
func (s *LinkService) Revoke(ctx context.Context, kind models.LinkKind, id uuid.UUID, actorID uuid.UUID) error {
	link, err := s.links.GetByID(ctx, kind, id)
	if err != nil {
		return storeErr(err)
	}
	if link.Status == models.LinkStatusRevoked {
		return nil
	}

	from := []models.LinkStatus{models.LinkStatusActive, models.LinkStatusSuspended}
	ok, err := s.links.TransitionStatus(ctx, kind, id, from, models.LinkStatusRevoked)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		// Lost a race; revoke stays idempotent if the winner also revoked.
		current, err := s.links.GetByID(ctx, kind, id)
		if err != nil {
			return storeErr(err)
		}
		if current.Status == models.LinkStatusRevoked {
			return nil
		}
		return apperrors.InvalidTransition("link cannot be revoked from status " + string(current.Status))
	}

	oldStatus := link.Status
	link.Status = models.LinkStatusRevoked
	metrics.LinkOperations.WithLabelValues("revoke", string(kind)).Inc()
	s.audit(ctx, link, actorID, models.AuditActionRevoke, oldStatus, models.LinkStatusRevoked, "")
	s.invalidateDecision(ctx, link)
	s.publish(ctx, notify.EventLinkRevoked, link)

	return nil
}

// ExtendExpiration moves a link's expiry forward.
func (s *LinkService) ExtendExpiration(ctx context.Context, kind models.LinkKind, id uuid.UUID, newExpiresAt time.Time, actorID uuid.UUID) (*models.Link, error) {
	if !newExpiresAt.After(s.clk.Now()) {
		return nil, apperrors.InvalidArgument("new expiry must be in the future")
	}
	expires := newExpiresAt
	req := models.UpdateLinkRequest{ExpiresAt: &expires}
	return s.UpdateLink(ctx, kind, id, req, actorID)
}

// CleanupExpired transitions every ACTIVE link past its expiry to EXPIRED and
// returns the count. Idempotent: a second run right after finds nothing left
// to transition. Readers never depend on this having run; they re-derive
// expiry themselves.
func (s *LinkService) CleanupExpired(ctx context.Context, kind models.LinkKind) (int64, error) {
	now := s.clk.Now()
	n, err := s.links.ExpireDue(ctx, kind, now)
	if err != nil {
		return 0, storeErr(err)
	}

	if n > 0 {
		metrics.LinksSwept.WithLabelValues(string(kind)).Add(float64(n))
		log.Info().Str("kind", string(kind)).Int64("count", n).Msg("Expired links transitioned")
		if s.cache != nil {
			if err := s.cache.Clear(ctx, cache.KindPattern(string(kind))); err != nil {
				log.Warn().Err(err).Msg("Failed to clear decision cache after sweep")
			}
		}
	}

	return n, nil
}

// ListBySubject returns active, non-expired links granted to a subject.
func (s *LinkService) ListBySubject(ctx context.Context, kind models.LinkKind, subjectID uuid.UUID) ([]models.Link, error) {
	links, err := s.links.ListBySubject(ctx, kind, subjectID, s.clk.Now())
	if err != nil {
		return nil, storeErr(err)
	}
	return links, nil
}

// ListByPatient returns active, non-expired links governing a patient.
func (s *LinkService) ListByPatient(ctx context.Context, kind models.LinkKind, patientID uuid.UUID) ([]models.Link, error) {
	links, err := s.links.ListByPatient(ctx, kind, patientID, s.clk.Now())
	if err != nil {
		return nil, storeErr(err)
	}
	return links, nil
}

// ListAll returns every link of a kind regardless of status. Admin surface.
func (s *LinkService) ListAll(ctx context.Context, kind models.LinkKind) ([]models.Link, error) {
	links, err := s.links.ListAll(ctx, kind)
	if err != nil {
		return nil, storeErr(err)
	}
	return links, nil
}

// ListExpiringSoon returns ACTIVE links expiring within the window after now.
func (s *LinkService) ListExpiringSoon(ctx context.Context, kind models.LinkKind, window time.Duration) ([]models.Link, error) {
	now := s.clk.Now()
	links, err := s.links.ListExpiringSoon(ctx, kind, now, now.Add(window))
	if err != nil {
		return nil, storeErr(err)
	}
	return links, nil
}

// ListExpiringBetween returns ACTIVE links whose expiry falls in (from, until].
func (s *LinkService) ListExpiringBetween(ctx context.Context, kind models.LinkKind, from, until time.Time) ([]models.Link, error) {
	links, err := s.links.ListExpiringSoon(ctx, kind, from, until)
	if err != nil {
		return nil, storeErr(err)
	}
	return links, nil
}

// Now exposes the service clock for handlers deriving response views.
func (s *LinkService) Now() time.Time {
	return s.clk.Now()
}

// audit appends a lifecycle audit entry. Fire-and-forget: a failed audit
// write is logged, never propagated.
func (s *LinkService) audit(ctx context.Context, link *models.Link, actorID uuid.UUID, action string, oldStatus, newStatus models.LinkStatus, detail string) {
	entry := &models.LinkAuditEntry{
		LinkID:    link.ID,
		Kind:      link.Kind,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Detail:    detail,
		CreatedAt: s.clk.Now(),
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Str("link_id", link.ID.String()).Msg("Failed to write audit entry")
	}
}

// publish dispatches a link event. Fire-and-forget.
func (s *LinkService) publish(ctx context.Context, event string, link *models.Link) {
	e := notify.LinkEvent{
		Event:         event,
		LinkID:        link.ID,
		Kind:          string(link.Kind),
		SubjectUserID: link.SubjectUserID,
		PatientUserID: link.PatientUserID,
		ExpiresAt:     link.ExpiresAt,
		OccurredAt:    s.clk.Now(),
	}
	if err := s.notifier.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", event).Str("link_id", link.ID.String()).Msg("Failed to publish link event")
	}
}

// invalidateDecision drops the cached access decision for the link's pair.
func (s *LinkService) invalidateDecision(ctx context.Context, link *models.Link) {
	if s.cache == nil {
		return
	}
	key := cache.DecisionKey(string(link.Kind), link.SubjectUserID.String(), link.PatientUserID.String())
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to invalidate decision cache")
	}
}

// storeErr passes typed application errors through and classifies everything
// else as StoreUnavailable, the only retryable class.
func storeErr(err error) error {
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.StoreUnavailable(err)
}
