package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AccessDecisions counts gateway decisions by outcome and caller role.
var AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "link_service",
	Name:      "access_decisions_total",
	Help:      "Authorization gateway decisions.",
}, []string{"decision", "role"})

// DuplicateActiveLinks counts observations of more than one ACTIVE link for
// the same (subject, patient, kind). A non-zero value means the storage
// invariant was breached and needs operator attention.
var DuplicateActiveLinks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "link_service",
	Name:      "duplicate_active_links_total",
	Help:      "Data-integrity events: multiple ACTIVE links for one pair.",
}, []string{"kind"})

// LinksSwept counts links transitioned to EXPIRED by the sweeper.
var LinksSwept = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "link_service",
	Name:      "expired_links_swept_total",
	Help:      "Links transitioned ACTIVE -> EXPIRED by the expiry sweeper.",
}, []string{"kind"})

// SweepErrors counts failed sweep runs. Failures are retried on the next tick.
var SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "link_service",
	Name:      "sweep_errors_total",
	Help:      "Expiry sweep runs that ended with an error.",
})

// LinkOperations counts lifecycle mutations by operation and kind.
var LinkOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "link_service",
	Name:      "link_operations_total",
	Help:      "Link lifecycle operations.",
}, []string{"operation", "kind"})
