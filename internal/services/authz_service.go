package services

import (
	"context"
	"time"

	"github.com/careconnectpt/link-service/internal/metrics"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/pkg/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// AuthzService is the single choke point every patient-scoped operation must
// pass through before touching patient data. The caller identity is an
// explicit parameter; there is no ambient security context to consult.
type AuthzService struct {
	access *AccessService
	clk    clock.Clock
}

// NewAuthzService creates a new authorization service.
func NewAuthzService(access *AccessService, clk clock.Clock) *AuthzService {
	return &AuthzService{access: access, clk: clk}
}

// Authorize decides whether caller may access patientID's data.
//
// The switch below covers the entire closed role set; keep it exhaustive
// when a role is added, since the default arm denies. Bypass rules run
// before the link lookup: ADMIN always passes, PATIENT passes for their own
// record only. On store failure the gateway fails closed: deny, and return
// the error so the boundary can distinguish 403 from 503.
func (s *AuthzService) Authorize(ctx context.Context, caller models.Identity, patientID uuid.UUID) (Decision, error) {
	now := s.clk.Now()

	var d Decision
	var err error

	switch caller.Role {
	case models.RoleAdmin:
		d = Decision{Allowed: true, Reason: "admin"}

	case models.RolePatient:
		if caller.UserID == patientID {
			d = Decision{Allowed: true, Reason: "self"}
		} else {
			d = Decision{Allowed: false, Reason: "patients may only access their own record"}
		}

	case models.RoleCaregiver:
		d, err = s.checkLink(ctx, models.LinkKindCaregiver, caller.UserID, patientID, now)

	case models.RoleFamilyMember:
		d, err = s.checkLink(ctx, models.LinkKindFamily, caller.UserID, patientID, now)

	default:
		log.Warn().Str("role", string(caller.Role)).Msg("Authorization attempted with unhandled role")
		d = Decision{Allowed: false, Reason: "unknown role"}
	}

	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	metrics.AccessDecisions.WithLabelValues(outcome, string(caller.Role)).Inc()

	return d, err
}

func (s *AuthzService) checkLink(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID, now time.Time) (Decision, error) {
	granted, err := s.access.HasAccess(ctx, kind, subjectID, patientID, now)
	if err != nil {
		// Fail closed: uncertainty denies.
		return Decision{Allowed: false, Reason: "link store unavailable"}, err
	}
	if !granted {
		return Decision{Allowed: false, Reason: "no active link"}, nil
	}
	return Decision{Allowed: true, Reason: "active link"}, nil
}
