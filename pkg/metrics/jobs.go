package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsSubmitted, jobsFinished, jobDuration, jobRetries)
}

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_jobs_submitted_total",
			Help: "Jobs accepted for conversion, by tool.",
		},
		[]string{"tool"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by tool, status and failure kind.",
		},
		[]string{"tool", "status", "kind"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversion_job_duration_seconds",
			Help:    "Wall-clock time of an execution from Begin to the terminal state.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tool", "status"},
	)

	jobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_job_retries_total",
			Help: "Extra attempts run after an internal failure, by tool.",
		},
		[]string{"tool"},
	)
)

func JobSubmitted(tool string) {
	jobsSubmitted.WithLabelValues(norm(tool)).Inc()
}

// JobFinished records a terminal job. kind is empty for successes.
func JobFinished(tool, status, kind string, took time.Duration) {
	jobsFinished.WithLabelValues(norm(tool), norm(status), norm(kind)).Inc()
	jobDuration.WithLabelValues(norm(tool), norm(status)).Observe(took.Seconds())
}

func JobRetried(tool string) {
	jobRetries.WithLabelValues(norm(tool)).Inc()
}
