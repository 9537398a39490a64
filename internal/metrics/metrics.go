// Package metrics holds the Prometheus counters of the subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Settlement outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown_entry"
	OutcomeMalformed = "malformed"
)

// Revocation outcomes.
const (
	OutcomeApplied    = "applied"
	OutcomeScheduled  = "scheduled"
	OutcomeRejected   = "rejected"
	OutcomeReinstated = "reinstated"
	OutcomeEnrolled   = "enrolled"
	OutcomeCertified  = "certified"
)

// Metrics groups the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry    *prometheus.Registry
	Settlements *prometheus.CounterVec
	Revocations *prometheus.CounterVec
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eden",
			Name:      "settlements_total",
			Help:      "Settlement messages handled, by outcome.",
		}, []string{"outcome"}),
		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eden",
			Name:      "revocations_total",
			Help:      "Revocation bus messages handled, by consumer and outcome.",
		}, []string{"consumer", "outcome"}),
	}
	m.Registry.MustRegister(m.Settlements, m.Revocations)
	return m
}

// Settlement counts one settlement message.
func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
}

// Revocation counts one revocation bus message for consumer.
func (m *Metrics) Revocation(consumer, outcome string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(consumer, outcome).Inc()
}
