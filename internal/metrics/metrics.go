// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package metrics exposes Prometheus counters for verification, recovery and
// ticketing outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Challenge *prometheus.CounterVec
	Recovery  *prometheus.CounterVec
	Ticketing *prometheus.CounterVec
}

// New registers the counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Challenge tracks login verification outcomes
		Challenge: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailauth_challenge_total",
				Help: "Login verification outcomes",
			},
			[]string{"outcome"},
		),
		// Recovery tracks account recovery outcomes
		Recovery: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailauth_recovery_total",
				Help: "Account recovery outcomes",
			},
			[]string{"outcome"},
		),
		// Ticketing tracks support desk API results
		Ticketing: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailauth_ticketing_requests_total",
				Help: "Support desk ticket creation results",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ChallengeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Challenge.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecoveryOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Recovery.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TicketingResult(result string) {
	if m == nil {
		return
	}
	m.Ticketing.WithLabelValues(result).Inc()
}
