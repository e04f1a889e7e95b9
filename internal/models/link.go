package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkKind discriminates the two relationship graphs sharing one table.
type LinkKind string

const (
	LinkKindCaregiver LinkKind = "CAREGIVER_PATIENT"
	LinkKindFamily    LinkKind = "FAMILY_MEMBER"
)

// ParseLinkKind maps the URL segment used by the management API to a kind.
func ParseLinkKind(s string) (LinkKind, bool) {
	switch s {
	case "caregiver-patient", string(LinkKindCaregiver):
		return LinkKindCaregiver, true
	case "family-member", string(LinkKindFamily):
		return LinkKindFamily, true
	}
	return "", false
}

// LinkStatus is the authoritative access gate on a link.
type LinkStatus string

const (
	LinkStatusActive    LinkStatus = "ACTIVE"
	LinkStatusSuspended LinkStatus = "SUSPENDED"
	LinkStatusRevoked   LinkStatus = "REVOKED"
	LinkStatusExpired   LinkStatus = "EXPIRED"
)

// ParseLinkStatus validates a client-supplied status string.
func ParseLinkStatus(s string) (LinkStatus, bool) {
	switch LinkStatus(s) {
	case LinkStatusActive, LinkStatusSuspended, LinkStatusRevoked, LinkStatusExpired:
		return LinkStatus(s), true
	}
	return "", false
}

// LinkType is informational only; it never gates access.
type LinkType string

const (
	LinkTypePermanent LinkType = "PERMANENT"
	LinkTypeTemporary LinkType = "TEMPORARY"
	LinkTypeEmergency LinkType = "EMERGENCY"
)

// ParseLinkType validates a client-supplied link type string.
func ParseLinkType(s string) (LinkType, bool) {
	switch LinkType(s) {
	case LinkTypePermanent, LinkTypeTemporary, LinkTypeEmergency:
		return LinkType(s), true
	}
	return "", false
}

// Link grants a subject (caregiver or family member) access to a patient's
// data. Status and ExpiresAt together decide whether access is currently
// granted; see services.AccessService.
type Link struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Kind          LinkKind   `gorm:"type:varchar(30);not null;index:idx_links_pair,priority:1" json:"kind"`
	SubjectUserID uuid.UUID  `gorm:"type:uuid;not null;index:idx_links_pair,priority:2;index" json:"subject_user_id"`
	PatientUserID uuid.UUID  `gorm:"type:uuid;not null;index:idx_links_pair,priority:3;index" json:"patient_user_id"`
	LinkType      LinkType   `gorm:"type:varchar(20);not null;default:'PERMANENT'" json:"link_type"`
	Status        LinkStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	ExpiresAt     *time.Time `gorm:"index" json:"expires_at,omitempty"`

	// Relationship is set for family links only ("Spouse", "Daughter", ...).
	Relationship string `gorm:"type:varchar(100)" json:"relationship,omitempty"`
	Notes        string `gorm:"type:text" json:"notes,omitempty"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Link) TableName() string {
	return "links"
}

// BeforeCreate hook
func (l *Link) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the link's expiry has passed at instant now.
// The boundary is exclusive on the grant side: a link exactly at its expiry
// instant no longer grants access.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Grants reports whether this link grants access at instant now, re-deriving
// expiry from ExpiresAt regardless of how stale the persisted status is.
func (l *Link) Grants(now time.Time) bool {
	return l.Status == LinkStatusActive && !l.IsExpired(now)
}

// CreateLinkRequest is the management API payload for creating a link.
type CreateLinkRequest struct {
	SubjectUserID uuid.UUID  `json:"subject_user_id"`
	PatientUserID uuid.UUID  `json:"patient_user_id"`
	LinkType      string     `json:"link_type,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Relationship  string     `json:"relationship,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// UpdateLinkRequest is the management API payload for patching a link.
// Nil fields are left unchanged.
type UpdateLinkRequest struct {
	Status       *string    `json:"status,omitempty"`
	LinkType     *string    `json:"link_type,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Relationship *string    `json:"relationship,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

// ExtendExpirationRequest moves a link's expiry forward.
type ExtendExpirationRequest struct {
	NewExpiresAt time.Time `json:"new_expires_at"`
}

// LinkResponse is the management API view of a link, with the derived
// grant/expiry flags the original clients rely on.
type LinkResponse struct {
	Link
	IsActive   bool `json:"is_active"`
	HasExpired bool `json:"is_expired"`
}

// ToResponse derives the response view of l at instant now.
func (l *Link) ToResponse(now time.Time) LinkResponse {
	return LinkResponse{
		Link:       *l,
		IsActive:   l.Grants(now),
		HasExpired: l.IsExpired(now),
	}
}
