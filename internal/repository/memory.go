package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/google/uuid"
)

// MemoryLinkStore is an in-memory LinkStore. It honors the same contracts as
// the Postgres-backed store, including the one-ACTIVE-link-per-pair
// constraint and CAS status transitions, so service tests run without a
// database.
type MemoryLinkStore struct {
	mu    sync.RWMutex
	links map[uuid.UUID]models.Link

	// failNext, when set, makes the next call return this error. Lets tests
	// exercise fail-closed behavior.
	failMu   sync.Mutex
	failNext error
}

// NewMemoryLinkStore creates an empty in-memory link store.
func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{links: make(map[uuid.UUID]models.Link)}
}

// FailNext makes the next store call return err.
func (s *MemoryLinkStore) FailNext(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failNext = err
}

func (s *MemoryLinkStore) takeFailure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err := s.failNext
	s.failNext = nil
	return err
}

// Create inserts a link, enforcing the active-pair uniqueness constraint the
// way the partial unique index does in Postgres.
func (s *MemoryLinkStore) Create(ctx context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}

	if link.Status == models.LinkStatusActive {
		for _, l := range s.links {
			if l.Kind == link.Kind &&
				l.SubjectUserID == link.SubjectUserID &&
				l.PatientUserID == link.PatientUserID &&
				l.Status == models.LinkStatusActive {
				return apperrors.Conflict("an active link already exists for this subject and patient")
			}
		}
	}

	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	s.links[link.ID] = *link
	return nil
}

// GetByID retrieves a link by kind and id.
func (s *MemoryLinkStore) GetByID(ctx context.Context, kind models.LinkKind, id uuid.UUID) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	l, ok := s.links[id]
	if !ok || l.Kind != kind {
		return nil, apperrors.NotFound("link not found")
	}
	cp := l
	return &cp, nil
}

// FindActiveForPair returns all stored-ACTIVE links for the pair.
func (s *MemoryLinkStore) FindActiveForPair(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var out []models.Link
	for _, l := range s.links {
		if l.Kind == kind && l.SubjectUserID == subjectID && l.PatientUserID == patientID && l.Status == models.LinkStatusActive {
			out = append(out, l)
		}
	}
	return out, nil
}

// ExistsActive checks for a stored-ACTIVE link for the pair.
func (s *MemoryLinkStore) ExistsActive(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID) (bool, error) {
	links, err := s.FindActiveForPair(ctx, kind, subjectID, patientID)
	if err != nil {
		return false, err
	}
	return len(links) > 0, nil
}

// ListBySubject returns active, non-expired links granted to a subject.
func (s *MemoryLinkStore) ListBySubject(ctx context.Context, kind models.LinkKind, subjectID uuid.UUID, now time.Time) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var out []models.Link
	for _, l := range s.links {
		if l.Kind == kind && l.SubjectUserID == subjectID && l.Grants(now) {
			out = append(out, l)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// ListByPatient returns active, non-expired links governing a patient.
func (s *MemoryLinkStore) ListByPatient(ctx context.Context, kind models.LinkKind, patientID uuid.UUID, now time.Time) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var out []models.Link
	for _, l := range s.links {
		if l.Kind == kind && l.PatientUserID == patientID && l.Grants(now) {
			out = append(out, l)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// ListAll returns every link of a kind regardless of status.
func (s *MemoryLinkStore) ListAll(ctx context.Context, kind models.LinkKind) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var out []models.Link
	for _, l := range s.links {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// ListExpiringSoon returns ACTIVE links whose expiry falls in (from, until].
func (s *MemoryLinkStore) ListExpiringSoon(ctx context.Context, kind models.LinkKind, from, until time.Time) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var out []models.Link
	for _, l := range s.links {
		if l.Kind == kind && l.Status == models.LinkStatusActive &&
			l.ExpiresAt != nil && l.ExpiresAt.After(from) && !l.ExpiresAt.After(until) {
			out = append(out, l)
		}
	}
	return out, nil
}

// TransitionStatus performs a compare-and-set on status under the store lock.
func (s *MemoryLinkStore) TransitionStatus(ctx context.Context, kind models.LinkKind, id uuid.UUID, from []models.LinkStatus, to models.LinkStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return false, err
	}

	l, ok := s.links[id]
	if !ok || l.Kind != kind {
		return false, nil
	}
	for _, f := range from {
		if l.Status == f {
			l.Status = to
			l.UpdatedAt = time.Now().UTC()
			s.links[id] = l
			return true, nil
		}
	}
	return false, nil
}

// UpdateFields patches mutable columns on a link.
func (s *MemoryLinkStore) UpdateFields(ctx context.Context, kind models.LinkKind, id uuid.UUID, from []models.LinkStatus, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return false, err
	}

	l, ok := s.links[id]
	if !ok || l.Kind != kind {
		return false, nil
	}
	if len(from) > 0 {
		match := false
		for _, f := range from {
			if l.Status == f {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}

	for col, v := range fields {
		switch col {
		case "status":
			l.Status = v.(models.LinkStatus)
		case "link_type":
			l.LinkType = v.(models.LinkType)
		case "expires_at":
			switch t := v.(type) {
			case *time.Time:
				l.ExpiresAt = t
			case time.Time:
				l.ExpiresAt = &t
			case nil:
				l.ExpiresAt = nil
			}
		case "notes":
			l.Notes = v.(string)
		case "relationship":
			l.Relationship = v.(string)
		}
	}
	l.UpdatedAt = time.Now().UTC()
	s.links[id] = l
	return true, nil
}

// ExpireDue transitions overdue ACTIVE links to EXPIRED.
func (s *MemoryLinkStore) ExpireDue(ctx context.Context, kind models.LinkKind, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return 0, err
	}

	var n int64
	for id, l := range s.links {
		if l.Kind == kind && l.Status == models.LinkStatusActive &&
			l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
			l.Status = models.LinkStatusExpired
			l.UpdatedAt = time.Now().UTC()
			s.links[id] = l
			n++
		}
	}
	return n, nil
}

func sortByCreatedAt(links []models.Link) {
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
}
