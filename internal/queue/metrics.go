package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "simplauto_agent"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Number of queue items by partition",
		},
		[]string{"partition"},
	)

	queueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Completed attempt transitions by resulting status",
		},
		[]string{"status"},
	)

	lockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the store lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
	)

	staleLocksReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "stale_locks_reclaimed_total",
			Help:      "Stale lock markers deleted during acquisition",
		},
	)
)

// RecordTransition records the resulting status of a completed attempt.
func RecordTransition(status TransitionStatus) {
	queueTransitions.WithLabelValues(string(status)).Inc()
}

// RecordLockWait records the time spent acquiring the store lock.
func RecordLockWait(d time.Duration) {
	lockWaitDuration.Observe(d.Seconds())
}

// RecordStaleLockReclaimed counts a stale lock marker reclaim.
func RecordStaleLockReclaimed() {
	staleLocksReclaimed.Inc()
}

// RecordStats updates partition size gauges from a snapshot.
func RecordStats(stats *Stats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	queueSize.WithLabelValues("completed").Set(float64(stats.Completed))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
