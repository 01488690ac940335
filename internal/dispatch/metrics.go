package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "simplauto_agent"

var (
	callsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Processed call attempts by outcome result",
		},
		[]string{"result"},
	)

	callDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Wall time from call start to recorded outcome",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

func recordCall(result string, duration time.Duration) {
	callsProcessed.WithLabelValues(result).Inc()
	callDuration.Observe(duration.Seconds())
}
