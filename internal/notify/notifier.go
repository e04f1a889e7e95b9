package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds published when link state changes.
const (
	EventLinkCreated      = "link.created"
	EventLinkRevoked      = "link.revoked"
	EventLinkExpiringSoon = "link.expiring_soon"
)

// LinkEvent informs the affected patient about a change to a link governing
// their data.
type LinkEvent struct {
	Event         string     `json:"event"`
	LinkID        uuid.UUID  `json:"link_id"`
	Kind          string     `json:"kind"`
	SubjectUserID uuid.UUID  `json:"subject_user_id"`
	PatientUserID uuid.UUID  `json:"patient_user_id"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Notifier dispatches link events to the notification pipeline. Dispatch is
// fire-and-forget: failures are logged by the caller and never fail the link
// operation.
type Notifier interface {
	Publish(ctx context.Context, event LinkEvent) error
}

// Noop discards all events. Used when no notification backend is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event LinkEvent) error { return nil }
