// Package resilience isolates backend failures: each backend identity gets its own
// circuit breaker, bulkhead, retry policy and per-kind timeouts.
package resilience

import (
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/metrics"
	"github.com/kailas-cloud/vecgate/internal/registry"
)

var tracer = otel.Tracer("github.com/kailas-cloud/vecgate/internal/resilience")

// TunablesSource supplies the current runtime knobs (implemented by *registry.Registry).
type TunablesSource interface {
	Tunables() registry.Tunables
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now for breaker timing.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// Manager owns one Guard per backend identity. Guards are created on first use
// and live for the process lifetime.
type Manager struct {
	source TunablesSource
	logger *zap.Logger
	now    func() time.Time
	guards sync.Map // identity -> *Guard
}

// NewManager creates a manager reading its policies from source.
func NewManager(source TunablesSource, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{source: source, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Guard returns the guard of identity, creating it on first use.
func (m *Manager) Guard(identity string) *Guard {
	if g, ok := m.guards.Load(identity); ok {
		return g.(*Guard)
	}
	t := m.source.Tunables().Resilience
	g := &Guard{
		identity: identity,
		breaker:  NewBreaker(identity, m.breakerSettings, m.now, m.onTransition),
		bulkhead: NewBulkhead(identity, t.BulkheadFor(identity)),
		source:   m.source,
		logger:   m.logger,
	}
	actual, loaded := m.guards.LoadOrStore(identity, g)
	if !loaded {
		metrics.CircuitState.WithLabelValues(identity).Set(float64(Closed))
	}
	return actual.(*Guard)
}

// States returns every known breaker's state sorted by identity.
func (m *Manager) States() []CircuitState {
	var out []CircuitState
	m.guards.Range(func(_, v any) bool {
		out = append(out, v.(*Guard).breaker.Snapshot())
		return true
	})
	slices.SortFunc(out, func(a, b CircuitState) int { return strings.Compare(a.Identity, b.Identity) })
	return out
}

func (m *Manager) breakerSettings() (int, time.Duration) {
	r := m.source.Tunables().Resilience
	return r.FailureThreshold, r.ResetTimeout
}

func (m *Manager) onTransition(identity string, to State) {
	metrics.CircuitState.WithLabelValues(identity).Set(float64(to))
	metrics.CircuitTransitionsTotal.WithLabelValues(identity, to.String()).Inc()

	fields := []zap.Field{zap.String("backend", identity), zap.String("state", to.String())}
	if to == Open {
		m.logger.Warn("Circuit opened", fields...)
		return
	}
	m.logger.Info("Circuit state changed", fields...)
}
