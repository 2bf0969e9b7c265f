package timeseries

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for timestep status.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

var (
	timestepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opticsim_timesteps_total",
			Help: "Total number of timesteps processed by the worker pool.",
		},
		[]string{"status"},
	)

	timestepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opticsim_timestep_seconds",
			Help:    "Duration of one timestep's optical train, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "opticsim_active_workers",
			Help: "Number of worker goroutines currently running.",
		},
	)

	chunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opticsim_chunks_flushed_total",
			Help: "Total number of chunks written to the field store.",
		},
	)
)

func init() {
	prometheus.MustRegister(timestepsTotal)
	prometheus.MustRegister(timestepDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(chunksTotal)

	timestepsTotal.WithLabelValues(statusCompleted)
	timestepsTotal.WithLabelValues(statusFailed)
}
