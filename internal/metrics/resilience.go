package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Resilience Prometheus metrics, labelled by backend identity.
var (
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state per backend (0=closed, 1=half_open, 2=open)",
		},
		[]string{"backend"},
	)

	CircuitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"backend", "to"},
	)

	BackendRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_rejected_total",
			Help:      "Calls rejected without I/O",
		},
		[]string{"backend", "reason"}, // "circuit_open" / "bulkhead_full"
	)

	BackendRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_retries_total",
			Help:      "Retry attempts after a transient failure",
		},
		[]string{"backend"},
	)

	BackendInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "backend_in_flight",
			Help:      "Calls currently holding a bulkhead slot",
		},
		[]string{"backend"},
	)
)

var registerResilienceOnce sync.Once

// RegisterResilienceMetrics registers resilience metrics. Safe to call more than once.
func RegisterResilienceMetrics() {
	registerResilienceOnce.Do(func() {
		prometheus.MustRegister(
			CircuitState, CircuitTransitionsTotal, BackendRejectedTotal,
			BackendRetriesTotal, BackendInFlight,
		)
	})
}
