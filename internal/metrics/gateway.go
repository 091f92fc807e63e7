package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every vecgate metric.
const Namespace = "vecgate"

// Gateway Prometheus metrics, one sample per Execute call.
var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Operations executed, by ingress protocol, kind, collection and outcome",
		},
		[]string{"protocol", "kind", "collection", "status"},
	)

	LatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "latency_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"protocol", "kind", "collection"},
	)

	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bus_messages_total",
			Help:      "Cross-instance events published (out) and applied (in), by subject",
		},
		[]string{"subject", "direction"},
	)

	CollectionsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "collections_registered",
			Help:      "Collections currently installed in the registry",
		},
	)
)

var registerGatewayOnce sync.Once

// RegisterGatewayMetrics registers gateway metrics. Safe to call more than once.
func RegisterGatewayMetrics() {
	registerGatewayOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal, LatencySeconds, BusMessagesTotal, CollectionsRegistered)
	})
}
