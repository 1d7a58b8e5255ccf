// Package metrics exposes the engine's prometheus instrumentation:
// active worker count, queue depth, run outcomes, and run duration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWorkers is the current size of the supervisor's active set.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bld_active_workers",
		Help: "Number of worker processes currently running a pipeline",
	})

	// QueueDepth is the current FIFO length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bld_queue_depth",
		Help: "Number of runs waiting for a free worker slot",
	})

	// RunsTotal counts completed runs by terminal outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bld_runs_total",
			Help: "Total runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration observes wall-clock run duration in seconds, keyed by
	// outcome so a faulted run's truncated duration doesn't skew the
	// finished-run histogram.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bld_run_duration_seconds",
			Help:    "Run duration in seconds from running to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2h
		},
		[]string{"outcome"},
	)
)

// ObserveRun records one terminal run for both the outcome counter and
// the duration histogram.
func ObserveRun(outcome string, duration time.Duration) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
