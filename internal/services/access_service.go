package services

import (
	"context"
	"strings"
	"time"

	"github.com/careconnectpt/link-service/internal/apperrors"
	"github.com/careconnectpt/link-service/internal/cache"
	"github.com/careconnectpt/link-service/internal/metrics"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AccessService answers whether a subject currently has access to a patient.
// It is a pure read: it never transitions link state, so read-path latency is
// independent of write-path locking. Expiry is re-derived from expires_at on
// every evaluation; correctness never depends on the sweeper having run.
type AccessService struct {
	links    repository.LinkStore
	cache    cache.Cache // nil disables decision caching
	cacheTTL time.Duration
}

// NewAccessService creates a new access service. decisionCache may be nil to
// evaluate against the store on every call.
func NewAccessService(links repository.LinkStore, decisionCache cache.Cache, cacheTTL time.Duration) *AccessService {
	return &AccessService{
		links:    links,
		cache:    decisionCache,
		cacheTTL: cacheTTL,
	}
}

// HasAccess reports whether subject has access to patient at instant now.
//
// Absence of a link is a normal deny, not an error. A link at exactly its
// expiry instant no longer grants. If the store holds more than one ACTIVE
// link for the pair the uniqueness invariant was breached elsewhere; the
// evaluator resolves most-permissive (grant if any qualifies) and flags the
// condition for operators rather than crashing.
func (s *AccessService) HasAccess(ctx context.Context, kind models.LinkKind, subjectID, patientID uuid.UUID, now time.Time) (bool, error) {
	key := cache.DecisionKey(string(kind), subjectID.String(), patientID.String())
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, key); err == nil {
			if granted, ok := decodeDecision(val, now); ok {
				return granted, nil
			}
		}
	}

	links, err := s.links.FindActiveForPair(ctx, kind, subjectID, patientID)
	if err != nil {
		return false, apperrors.StoreUnavailable(err)
	}

	if len(links) > 1 {
		metrics.DuplicateActiveLinks.WithLabelValues(string(kind)).Inc()
		log.Error().
			Str("kind", string(kind)).
			Str("subject_user_id", subjectID.String()).
			Str("patient_user_id", patientID.String()).
			Int("count", len(links)).
			Msg("Data integrity: multiple ACTIVE links for one pair")
	}

	granted := false
	var grantBound *time.Time
	for i := range links {
		if !links[i].Grants(now) {
			continue
		}
		if !granted {
			granted = true
			grantBound = links[i].ExpiresAt
		} else if grantBound != nil {
			if links[i].ExpiresAt == nil || links[i].ExpiresAt.After(*grantBound) {
				grantBound = links[i].ExpiresAt
			}
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, encodeDecision(granted, grantBound), s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache access decision")
		}
	}

	return granted, nil
}

// encodeDecision serializes a decision for the cache. A grant carries the
// expiry it was derived from so a later hit can re-check it: a cached grant
// must never outlive the link's expiry instant, whatever the cache TTL.
func encodeDecision(granted bool, expiresAt *time.Time) []byte {
	if !granted {
		return []byte("0")
	}
	if expiresAt == nil {
		return []byte("1")
	}
	return []byte("1:" + expiresAt.UTC().Format(time.RFC3339Nano))
}

// decodeDecision reports (granted, usable). A grant whose expiry bound has
// passed at now is not usable; the caller falls through to the store.
func decodeDecision(val []byte, now time.Time) (bool, bool) {
	s := string(val)
	switch {
	case s == "0":
		return false, true
	case s == "1":
		return true, true
	case strings.HasPrefix(s, "1:"):
		bound, err := time.Parse(time.RFC3339Nano, s[2:])
		if err != nil {
			return false, false
		}
		if bound.After(now) {
			return true, true
		}
		return false, false
	}
	return false, false
}
