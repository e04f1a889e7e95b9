package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/notify"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/careconnectpt/link-service/internal/services"
	"github.com/careconnectpt/link-service/pkg/clock"
	"github.com/google/uuid"
)

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.LinkEvent
}

func (r *recordingNotifier) Publish(ctx context.Context, event notify.LinkEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) byEvent(name string) []notify.LinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.LinkEvent
	for _, e := range r.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	links    *repository.MemoryLinkStore
	users    *repository.MemoryUserStore
	audits   *repository.MemoryAuditStore
	notifier *recordingNotifier
	clk      *clock.Fake
	svc      *services.LinkService

	caregiver uuid.UUID
	patient   uuid.UUID
	family    uuid.UUID
	admin     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		links:     repository.NewMemoryLinkStore(),
		audits:    repository.NewMemoryAuditStore(),
		notifier:  &recordingNotifier{},
		clk:       clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		caregiver: uuid.New(),
		patient:   uuid.New(),
		family:    uuid.New(),
		admin:     uuid.New(),
	}
	f.users = repository.NewMemoryUserStore(
		models.User{ID: f.caregiver, Email: "carer@example.com", Role: models.RoleCaregiver, IsActive: true},
		models.User{ID: f.patient, Email: "patient@example.com", Role: models.RolePatient, IsActive: true},
		models.User{ID: f.family, Email: "family@example.com", Role: models.RoleFamilyMember, IsActive: true},
		models.User{ID: f.admin, Email: "admin@example.com", Role: models.RoleAdmin, IsActive: true},
	)
	f.svc = services.NewLinkService(f.links, f.users, f.audits, nil, 0, f.notifier, f.clk)
	return f
}

func (f *fixture) mustCreate(t *testing.T, kind models.LinkKind, subject, patient uuid.UUID, expiresAt *time.Time) *models.Link {
	t.Helper()
	link, err := f.svc.CreateLink(context.Background(), kind, f.admin, subject, patient, models.LinkTypeTemporary, expiresAt, "", "")
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	return link
}

func future(f *fixture, d time.Duration) *time.Time {
	t := f.clk.Now().Add(d)
	return &t
}

func TestCreateLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.CreateLink(ctx, models.LinkKindCaregiver, f.caregiver, f.caregiver, f.patient, models.LinkTypePermanent, nil, "primary carer", "")
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	if link.Status != models.LinkStatusActive {
		t.Errorf("expected status ACTIVE, got %s", link.Status)
	}
	if link.CreatedBy != f.caregiver {
		t.Errorf("expected created_by %s, got %s", f.caregiver, link.CreatedBy)
	}
	if link.ID == uuid.Nil {
		t.Error("expected assigned link id")
	}

	if got := f.notifier.byEvent(notify.EventLinkCreated); len(got) != 1 {
		t.Errorf("expected 1 created event, got %d", len(got))
	}
	if len(f.audits.Entries) != 1 || f.audits.Entries[0].Action != models.AuditActionCreate {
		t.Errorf("expected one create audit entry, got %+v", f.audits.Entries)
	}
}

func TestCreateLinkRejectsSelfLink(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateLink(context.Background(), models.LinkKindCaregiver, f.admin, f.patient, f.patient, models.LinkTypePermanent, nil, "", "")
	if !apperrors.Is(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCreateLinkRejectsPastExpiry(t *testing.T) {
	f := newFixture(t)

	past := f.clk.Now().Add(-time.Hour)
	_, err := f.svc.CreateLink(context.Background(), models.LinkKindCaregiver, f.admin, f.caregiver, f.patient, models.LinkTypeTemporary, &past, "", "")
	if !apperrors.Is(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	// Expiry exactly at creation time is also rejected.
	now := f.clk.Now()
	_, err = f.svc.CreateLink(context.Background(), models.LinkKindCaregiver, f.admin, f.caregiver, f.patient, models.LinkTypeTemporary, &now, "", "")
	if !apperrors.Is(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected InvalidArgument for expiry at now, got %v", err)
	}
}

func TestCreateLinkConflictOnSecondActive(t *testing.T) {
	f := newFixture(t)

	f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	_, err := f.svc.CreateLink(context.Background(), models.LinkKindCaregiver, f.admin, f.caregiver, f.patient, models.LinkTypePermanent, nil, "", "")
	if !apperrors.Is(err, apperrors.CodeConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestCreateLinkSamePairDifferentKind(t *testing.T) {
	f := newFixture(t)

	f.mustCreate(t, models.LinkKindCaregiver, f.family, f.patient, nil)

	// The uniqueness constraint is scoped per kind.
	if _, err := f.svc.CreateLink(context.Background(), models.LinkKindFamily, f.patient, f.family, f.patient, models.LinkTypePermanent, nil, "", "Spouse"); err != nil {
		t.Fatalf("expected family link to coexist with caregiver link, got %v", err)
	}
}

func TestConcurrentCreateAllowsExactlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateLink(ctx, models.LinkKindCaregiver, f.admin, f.caregiver, f.patient, models.LinkTypePermanent, nil, "", "")
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperrors.Is(err, apperrors.CodeConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly 1 successful create, got %d", successes)
	}
	if conflicts != attempts-1 {
		t.Errorf("expected %d conflicts, got %d", attempts-1, conflicts)
	}
}

func TestSuspendAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, future(f, 24*time.Hour))

	suspended, err := f.svc.Suspend(ctx, models.LinkKindCaregiver, link.ID, f.patient)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if suspended.Status != models.LinkStatusSuspended {
		t.Errorf("expected SUSPENDED, got %s", suspended.Status)
	}

	// Suspending twice is an invalid transition.
	if _, err := f.svc.Suspend(ctx, models.LinkKindCaregiver, link.ID, f.patient); !apperrors.Is(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}

	reactivated, err := f.svc.Reactivate(ctx, models.LinkKindCaregiver, link.ID, f.patient)
	if err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	if reactivated.Status != models.LinkStatusActive {
		t.Errorf("expected ACTIVE, got %s", reactivated.Status)
	}
}

func TestReactivateExpiredLinkFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, future(f, time.Hour))

	if _, err := f.svc.Suspend(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	f.clk.Advance(2 * time.Hour)

	_, err := f.svc.Reactivate(ctx, models.LinkKindCaregiver, link.ID, f.patient)
	if !apperrors.Is(err, apperrors.CodeExpired) {
		t.Fatalf("expected Expired, got %v", err)
	}
}

func TestReactivateWithoutExpirySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	if _, err := f.svc.Suspend(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	f.clk.Advance(100 * 24 * time.Hour)

	reactivated, err := f.svc.Reactivate(ctx, models.LinkKindCaregiver, link.ID, f.patient)
	if err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	if reactivated.Status != models.LinkStatusActive {
		t.Errorf("expected ACTIVE, got %s", reactivated.Status)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	if err := f.svc.Revoke(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("first Revoke failed: %v", err)
	}
	if err := f.svc.Revoke(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("second Revoke should be a no-op, got %v", err)
	}

	got, err := f.svc.GetLink(ctx, models.LinkKindCaregiver, link.ID)
	if err != nil {
		t.Fatalf("GetLink failed: %v", err)
	}
	if got.Status != models.LinkStatusRevoked {
		t.Errorf("expected REVOKED, got %s", got.Status)
	}

	// Only the first revoke produces an event and an audit entry.
	if got := f.notifier.byEvent(notify.EventLinkRevoked); len(got) != 1 {
		t.Errorf("expected 1 revoked event, got %d", len(got))
	}
}

func TestRevokedIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	if err := f.svc.Revoke(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if _, err := f.svc.Reactivate(ctx, models.LinkKindCaregiver, link.ID, f.patient); !apperrors.Is(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected InvalidTransition reactivating a revoked link, got %v", err)
	}

	status := string(models.LinkStatusActive)
	_, err := f.svc.UpdateLink(ctx, models.LinkKindCaregiver, link.ID, models.UpdateLinkRequest{Status: &status}, f.admin)
	if !apperrors.Is(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected InvalidTransition updating a revoked link to ACTIVE, got %v", err)
	}
}

func TestUpdateLinkCannotForceExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	status := string(models.LinkStatusExpired)
	_, err := f.svc.UpdateLink(ctx, models.LinkKindCaregiver, link.ID, models.UpdateLinkRequest{Status: &status}, f.admin)
	if !apperrors.Is(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

func TestUpdateLinkPatchesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	notes := "rotation cover"
	linkType := string(models.LinkTypeEmergency)
	relationship := "Spouse"
	expires := f.clk.Now().Add(48 * time.Hour)

	updated, err := f.svc.UpdateLink(ctx, models.LinkKindCaregiver, link.ID, models.UpdateLinkRequest{
		LinkType:     &linkType,
		ExpiresAt:    &expires,
		Relationship: &relationship,
		Notes:        &notes,
	}, f.admin)
	if err != nil {
		t.Fatalf("UpdateLink failed: %v", err)
	}
	if updated.LinkType != models.LinkTypeEmergency {
		t.Errorf("expected EMERGENCY, got %s", updated.LinkType)
	}
	if updated.Notes != notes {
		t.Errorf("expected notes %q, got %q", notes, updated.Notes)
	}
	if updated.Relationship != relationship {
		t.Errorf("expected relationship %q, got %q", relationship, updated.Relationship)
	}
	if updated.ExpiresAt == nil || !updated.ExpiresAt.Equal(expires) {
		t.Errorf("expected expiry %v, got %v", expires, updated.ExpiresAt)
	}
	if updated.Status != models.LinkStatusActive {
		t.Errorf("field patch must not change status, got %s", updated.Status)
	}
}

func TestUpdateLinkStatusAndFieldsTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	status := string(models.LinkStatusSuspended)
	notes := "paused during audit"
	updated, err := f.svc.UpdateLink(ctx, models.LinkKindCaregiver, link.ID, models.UpdateLinkRequest{
		Status: &status,
		Notes:  &notes,
	}, f.admin)
	if err != nil {
		t.Fatalf("UpdateLink failed: %v", err)
	}
	if updated.Status != models.LinkStatusSuspended {
		t.Errorf("expected SUSPENDED, got %s", updated.Status)
	}
	if updated.Notes != notes {
		t.Errorf("expected notes %q, got %q", notes, updated.Notes)
	}
}

func TestUpdateLinkNotFound(t *testing.T) {
	f := newFixture(t)

	notes := "x"
	_, err := f.svc.UpdateLink(context.Background(), models.LinkKindCaregiver, uuid.New(), models.UpdateLinkRequest{Notes: &notes}, f.admin)
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, future(f, time.Hour))
	otherPatient := uuid.New()
	f.users.Add(models.User{ID: otherPatient, Email: "p2@example.com", Role: models.RolePatient, IsActive: true})
	f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, otherPatient, nil)

	f.clk.Advance(2 * time.Hour)

	n, err := f.svc.CleanupExpired(ctx, models.LinkKindCaregiver)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 link expired, got %d", n)
	}

	// Second run finds nothing left.
	n, err = f.svc.CleanupExpired(ctx, models.LinkKindCaregiver)
	if err != nil {
		t.Fatalf("second CleanupExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on second run, got %d", n)
	}
}

func TestCreatePermanentLinkIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreatePermanentLink(ctx, models.LinkKindCaregiver, f.caregiver, f.caregiver, f.patient, "registration")
	if err != nil {
		t.Fatalf("CreatePermanentLink failed: %v", err)
	}

	second, err := f.svc.CreatePermanentLink(ctx, models.LinkKindCaregiver, f.caregiver, f.caregiver, f.patient, "registration")
	if err != nil {
		t.Fatalf("repeat CreatePermanentLink failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected existing link returned, got %s and %s", first.ID, second.ID)
	}
}

func TestExtendExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, future(f, time.Hour))

	newExpiry := f.clk.Now().Add(72 * time.Hour)
	updated, err := f.svc.ExtendExpiration(ctx, models.LinkKindCaregiver, link.ID, newExpiry, f.admin)
	if err != nil {
		t.Fatalf("ExtendExpiration failed: %v", err)
	}
	if updated.ExpiresAt == nil || !updated.ExpiresAt.Equal(newExpiry) {
		t.Errorf("expected expiry %v, got %v", newExpiry, updated.ExpiresAt)
	}

	if _, err := f.svc.ExtendExpiration(ctx, models.LinkKindCaregiver, link.ID, f.clk.Now().Add(-time.Minute), f.admin); !apperrors.Is(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected InvalidArgument for past expiry, got %v", err)
	}
}

func TestStoreFailureClassifiedAsStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	f.links.FailNext(errors.New("connection refused"))

	_, err := f.svc.GetLink(context.Background(), models.LinkKindCaregiver, link.ID)
	if !apperrors.Is(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := f.mustCreate(t, models.LinkKindCaregiver, f.caregiver, f.patient, nil)

	if _, err := f.svc.Suspend(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if _, err := f.svc.Reactivate(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	if err := f.svc.Revoke(ctx, models.LinkKindCaregiver, link.ID, f.patient); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	entries, err := f.audits.ListByLink(ctx, link.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListByLink failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 audit entries, got %d", len(entries))
	}

	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []string{models.AuditActionCreate, models.AuditActionSuspend, models.AuditActionReactivate, models.AuditActionRevoke} {
		if !actions[want] {
			t.Errorf("missing audit action %s", want)
		}
	}
}
