// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	Verdicts *prometheus.CounterVec
	// StoreErrors counts storage failures by operation, the signal to
	// watch when the fail-open/fail-closed policy starts mattering.
	StoreErrors   *prometheus.CounterVec
	BreakerTrips  *prometheus.CounterVec
	CheckDuration prometheus.Histogram
}

// New creates the collectors, unregistered.
func New() *Metrics {
	return &Metrics{
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_verdicts_total",
			Help: "Total number of verdicts rendered",
		}, []string{"channel", "verdict"}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_store_errors_total",
			Help: "Total number of storage backend failures",
		}, []string{"stage"}),

		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorman_breaker_trips_total",
			Help: "Total number of deny-attempt breaker trips",
		}, []string{"channel"}),

		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "doorman_check_duration_seconds",
			Help:    "Wall time spent computing one verdict",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register attaches all collectors to a registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Verdicts, m.StoreErrors, m.BreakerTrips, m.CheckDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
