package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(capacityRejections, queueDepth) }

var (
	capacityRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_capacity_rejections_total",
			Help: "Submissions refused because the queue was full, by dispatcher.",
		},
		[]string{"dispatcher"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conversion_queue_depth",
			Help: "Jobs waiting for a worker, by dispatcher.",
		},
		[]string{"dispatcher"},
	)
)

func CapacityRejected(dispatcher string) {
	capacityRejections.WithLabelValues(norm(dispatcher)).Inc()
}

func SetQueueDepth(dispatcher string, n int) {
	queueDepth.WithLabelValues(norm(dispatcher)).Set(float64(n))
}
