package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/database"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkStore is the persistence boundary for links. It carries no business
// validation; callers pass "now" explicitly so reads stay deterministic under
// an injected clock. Backed by Postgres in production and by MemoryLinkStore
// in tests.
type LinkStore interface {
	Create(ctx context.Context, link *models.Link) error
	GetByID(ctx context.Context, kind models.LinkKind, id uuid.UUID) (*models.Link, error)

	// FindActiveForPair returns every link with stored status ACTIVE for the
	// pair, without expiry filtering: the access evaluator re-derives expiry
	// itself. More than one row means the uniqueness invariant was breached;
	// the store reports what is there and lets the caller resolve it.
	FindActiveForPair(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID) ([]models.Link, error)

	ExistsActive(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID) (bool, error)
	ListBySubject(ctx context.Context, kind models.LinkKind, subjectID uuid.UUID, now time.Time) ([]models.Link, error)
	ListByPatient(ctx context.Context, kind models.LinkKind, patientID uuid.UUID, now time.Time) ([]models.Link, error)
	ListAll(ctx context.Context, kind models.LinkKind) ([]models.Link, error)
	ListExpiringSoon(ctx context.Context, kind models.LinkKind, from, until time.Time) ([]models.Link, error)

	// TransitionStatus performs a compare-and-set on status: the row moves to
	// "to" only if its current persisted status is in "from". Returns whether
	// a row changed, so concurrent transitions cannot combine into an invalid
	// outcome.
	TransitionStatus(ctx context.Context, kind models.LinkKind, id uuid.UUID, from []models.LinkStatus, to models.LinkStatus) (bool, error)

	// UpdateFields patches mutable columns in one statement, optionally
	// guarded by a status precondition: when from is non-empty the patch
	// (including any "status" entry) applies only while the current status is
	// in from, so a status change and its field edits land together or not at
	// all. Returns whether a row changed.
	UpdateFields(ctx context.Context, kind models.LinkKind, id uuid.UUID, from []models.LinkStatus, fields map[string]interface{}) (bool, error)

	// ExpireDue transitions every ACTIVE link with expires_at < now to
	// EXPIRED and returns the number of rows changed. Idempotent.
	ExpireDue(ctx context.Context, kind models.LinkKind, now time.Time) (int64, error)
}

// LinkRepository implements LinkStore on the global gorm handle.
type LinkRepository struct{}

// NewLinkRepository creates a new link repository
func NewLinkRepository() *LinkRepository {
	return &LinkRepository{}
}

// Create inserts a new link. A second ACTIVE link for the same pair trips the
// partial unique index and surfaces as Conflict.
func (r *LinkRepository) Create(ctx context.Context, link *models.Link) error {
	if err := database.DB.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("an active link already exists for this subject and patient")
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// GetByID retrieves a link by kind and id.
func (r *LinkRepository) GetByID(ctx context.Context, kind models.LinkKind, id uuid.UUID) (*models.Link, error) {
	var link models.Link
	err := database.DB.WithContext(ctx).
		Where("kind = ? AND id = ?", kind, id).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("link not found")
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}

// FindActiveForPair returns all stored-ACTIVE links for the pair.
func (r *LinkRepository) FindActiveForPair(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID) ([]models.Link, error) {
	var links []models.Link
	err := database.DB.WithContext(ctx).
		Where("kind = ? AND subject_user_id = ? AND patient_user_id = ? AND status = ?",
			kind, subjectID, patientID, models.LinkStatusActive).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find active links: %w", err)
	}
	return links, nil
}

// ExistsActive checks for a stored-ACTIVE link for the pair.
func (r *LinkRepository) ExistsActive(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID) (bool, error) {
	var count int64
	err := database.DB.WithContext(ctx).
		Model(&models.Link{}).
		Where("kind = ? AND subject_user_id = ? AND patient_user_id = ? AND status = ?",
			kind, subjectID, patientID, models.LinkStatusActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check active link: %w", err)
	}
	return count > 0, nil
}

// ListBySubject returns active, non-expired links granted to a subject.
func (r *LinkRepository) ListBySubject(ctx context.Context, kind models.LinkKind, subjectID uuid.UUID, now time.Time) ([]models.Link, error) {
	var links []models.Link
	err := database.DB.WithContext(ctx).
		Where("kind = ? AND subject_user_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			kind, subjectID, models.LinkStatusActive, now).
		Order("created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links by subject: %w", err)
	}
	return links, nil
}

// ListByPatient returns active, non-expired links governing a patient.
func (r *LinkRepository) ListByPatient(ctx context.Context, kind models.LinkKind, patientID uuid.UUID, now time.Time) ([]models.Link, error) {
	var links []models.Link
	err := database.DB.WithContext(ctx).
		Where("kind = ? AND patient_user_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			kind, patientID, models.LinkStatusActive, now).
		Order("created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links by patient: %w", err)
	}
	return links, nil
}

// ListAll returns every link of a kind regardless of status. Admin surface.
func (r *LinkRepository) ListAll(ctx context.Context, kind models.LinkKind) ([]models.Link, error) {
	var links []models.Link
	err := database.DB.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return links, nil
}

// ListExpiringSoon returns ACTIVE links whose expiry falls in (from, until].
func (r *LinkRepository) ListExpiringSoon(ctx context.Context, kind models.LinkKind, from, until time.Time) ([]models.Link, error) {
	var links []models.Link
	err := database.DB.WithContext(ctx).
		Where("kind = ? AND status = ? AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?",
			kind, models.LinkStatusActive, from, until).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring links: %w", err)
	}
	return links, nil
}

// TransitionStatus moves the link's status with a conditional UPDATE.
func (r *LinkRepository) TransitionStatus(ctx context.Context, kind models.LinkKind, id uuid.UUID, from []models.LinkStatus, to models.LinkStatus) (bool, error) {
	res := database.DB.WithContext(ctx).
		Model(&models.Link{}).
		Where("kind = ? AND id = ? AND status IN ?", kind, id, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition link status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateFields patches mutable columns with one conditional UPDATE.
func (r *LinkRepository) UpdateFields(ctx context.Context, kind models.LinkKind, id uuid.UUID, from []models.LinkStatus, fields map[string]interface{}) (bool, error) {
	query := database.DB.WithContext(ctx).
		Model(&models.Link{}).
		Where("kind = ? AND id = ?", kind, id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	res := query.Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update link: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ExpireDue transitions overdue ACTIVE links to EXPIRED in one statement.
func (r *LinkRepository) ExpireDue(ctx context.Context, kind models.LinkKind, now time.Time) (int64, error) {
	res := database.DB.WithContext(ctx).
		Model(&models.Link{}).
		Where("kind = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			kind, models.LinkStatusActive, now).
		Update("status", models.LinkStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire links: %w", res.Error)
	}
	return res.RowsAffected, nil
}
