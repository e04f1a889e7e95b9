package services

import (
	"context"
	"time"

	"github.com/careconnectpt/link-service/internal/metrics"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/notify"
	"github.com/careconnectpt/link-service/pkg/clock"
	"github.com/rs/zerolog/log"
)

var sweepKinds = []models.LinkKind{models.LinkKindCaregiver, models.LinkKindFamily}

// MaintenanceService is the expiry sweeper: a periodic task reconciling the
// persisted status of time-expired links. It is an eventual-consistency
// mechanism only; access checks re-derive expiry on every read, so a missed
// tick never grants stale access. A failed sweep is logged and retried on the
// next tick.
type MaintenanceService struct {
	links    *LinkService
	notifier notify.Notifier
	clk      clock.Clock

	interval      time.Duration
	expiringEvery time.Duration
	expiringSoon  time.Duration

	// notifiedThrough is the upper expiry bound already covered by a
	// published expiring-soon event; only the loop goroutine touches it.
	notifiedThrough time.Time

	done chan struct{}
}

// NewMaintenanceService creates the sweeper. expiringSoon is the lookahead
// window for expiring-soon notifications; expiringEvery is how often that
// pass runs.
func NewMaintenanceService(links *LinkService, notifier notify.Notifier, clk clock.Clock, interval, expiringEvery, expiringSoon time.Duration) *MaintenanceService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &MaintenanceService{
		links:         links,
		notifier:      notifier,
		clk:           clk,
		interval:      interval,
		expiringEvery: expiringEvery,
		expiringSoon:  expiringSoon,
		done:          make(chan struct{}),
	}
}

// Start launches the sweep loop in the background. It stops when ctx is
// cancelled or Stop is called.
func (s *MaintenanceService) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the sweep loop.
func (s *MaintenanceService) Stop() {
	close(s.done)
}

func (s *MaintenanceService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastExpiringPass := s.clk.Now()

	log.Info().Dur("interval", s.interval).Msg("Expiry sweeper started")

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
			if s.clk.Now().Sub(lastExpiringPass) >= s.expiringEvery {
				s.notifyExpiringSoon(ctx)
				lastExpiringPass = s.clk.Now()
			}
		case <-ctx.Done():
			log.Info().Msg("Expiry sweeper stopped")
			return
		case <-s.done:
			log.Info().Msg("Expiry sweeper stopped")
			return
		}
	}
}

// RunOnce sweeps both link kinds. Partial completion is fine: the operation
// is idempotent and the next tick finishes the job.
func (s *MaintenanceService) RunOnce(ctx context.Context) {
	for _, kind := range sweepKinds {
		n, err := s.links.CleanupExpired(ctx, kind)
		if err != nil {
			metrics.SweepErrors.Inc()
			log.Error().Err(err).Str("kind", string(kind)).Msg("Expiry sweep failed")
			continue
		}
		if n > 0 {
			log.Info().Str("kind", string(kind)).Int64("count", n).Msg("Expiry sweep completed")
		}
	}
}

// notifyExpiringSoon publishes an event for every ACTIVE link expiring within
// the lookahead window. Consecutive passes overlap in wall time, so the scan
// starts at the last notified expiry bound and each link is published once.
func (s *MaintenanceService) notifyExpiringSoon(ctx context.Context) {
	now := s.clk.Now()
	from := now
	if s.notifiedThrough.After(from) {
		from = s.notifiedThrough
	}
	until := now.Add(s.expiringSoon)
	if !until.After(from) {
		return
	}

	allOK := true
	for _, kind := range sweepKinds {
		links, err := s.links.ListExpiringBetween(ctx, kind, from, until)
		if err != nil {
			allOK = false
			log.Error().Err(err).Str("kind", string(kind)).Msg("Expiring-soon scan failed")
			continue
		}
		for i := range links {
			l := &links[i]
			e := notify.LinkEvent{
				Event:         notify.EventLinkExpiringSoon,
				LinkID:        l.ID,
				Kind:          string(l.Kind),
				SubjectUserID: l.SubjectUserID,
				PatientUserID: l.PatientUserID,
				ExpiresAt:     l.ExpiresAt,
				OccurredAt:    s.clk.Now(),
			}
			if err := s.notifier.Publish(ctx, e); err != nil {
				log.Warn().Err(err).Str("link_id", l.ID.String()).Msg("Failed to publish expiring-soon event")
			}
		}
	}
	// A failed scan retries the same range on the next pass.
	if allOK {
		s.notifiedThrough = until
	}
}
