package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	causesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swabra",
			Subsystem: "causality",
			Name:      "recorded_total",
			Help:      "Number of clean checkout causes recorded on build finish.",
		},
	)
	causesDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swabra",
			Subsystem: "causality",
			Name:      "deleted_total",
			Help:      "Number of causality records removed by cleanup, by reason.",
		}, []string{"reason"},
	)
	cleanupCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swabra",
			Subsystem: "cleanup",
			Name:      "cycles_total",
			Help:      "Number of cleanup cycles by result (completed, interrupted, failed).",
		}, []string{"result"},
	)
	cleanupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "swabra",
			Subsystem: "cleanup",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of cleanup cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	toolFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swabra",
			Subsystem: "tool",
			Name:      "fetch_total",
			Help:      "Number of handle.exe download attempts by result.",
		}, []string{"result"},
	)
	toolRequired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swabra",
			Subsystem: "tool",
			Name:      "required_total",
			Help:      "Per-build tool requirement decisions.",
		}, []string{"required"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{causesRecorded, causesDeleted, cleanupCycles, cleanupDuration, toolFetches, toolRequired}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCauseRecorded() {
	if regOK.Load() {
		causesRecorded.Inc()
	}
}

func IncCauseDeleted(reason string) {
	if regOK.Load() {
		causesDeleted.WithLabelValues(reason).Inc()
	}
}

func ObserveCleanupCycle(result string, seconds float64) {
	if regOK.Load() {
		cleanupCycles.WithLabelValues(result).Inc()
		cleanupDuration.Observe(seconds)
	}
}

func IncToolFetch(result string) {
	if regOK.Load() {
		toolFetches.WithLabelValues(result).Inc()
	}
}

func IncToolRequired(required bool) {
	if regOK.Load() {
		label := "false"
		if required {
			label = "true"
		}
		toolRequired.WithLabelValues(label).Inc()
	}
}
