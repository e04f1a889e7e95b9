package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkAuditEntry records one lifecycle mutation of a link. Entries are
// append-only and written fire-and-forget: a failed audit write never fails
// the link operation it describes.
type LinkAuditEntry struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	LinkID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"link_id"`
	Kind      LinkKind   `gorm:"type:varchar(30);not null;index" json:"kind"`
	ActorID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"actor_id"`
	Action    string     `gorm:"type:varchar(50);not null;index" json:"action"`
	OldStatus LinkStatus `gorm:"type:varchar(20)" json:"old_status,omitempty"`
	NewStatus LinkStatus `gorm:"type:varchar(20)" json:"new_status,omitempty"`
	Detail    string     `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"timestamp"`
}

// Audit actions.
const (
	AuditActionCreate     = "link.create"
	AuditActionUpdate     = "link.update"
	AuditActionSuspend    = "link.suspend"
	AuditActionReactivate = "link.reactivate"
	AuditActionRevoke     = "link.revoke"
	AuditActionExpire     = "link.expire"
)

// TableName overrides the table name
func (LinkAuditEntry) TableName() string {
	return "link_audit_entries"
}

// BeforeCreate hook
func (a *LinkAuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
