// Package health aggregates vector store, model server and circuit breaker health.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecgate/internal/resilience"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure: a model server is down or a circuit is open.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// DefaultTimeout bounds each component check.
const DefaultTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status   Status
	Checks   map[string]CheckResult
	Circuits []resilience.CircuitState
}

// Service coordinates health checks.
type Service struct {
	store    Pinger
	models   []ModelChecker
	circuits CircuitReader
	timeout  time.Duration
}

// New creates a Service. models and circuits may be empty.
func New(store Pinger, models []ModelChecker, circuits CircuitReader) *Service {
	return &Service{store: store, models: models, circuits: circuits, timeout: DefaultTimeout}
}

// Check queries every component in parallel, bypassing the resilience guards.
func (s *Service) Check(ctx context.Context) Report {
	var mu sync.Mutex
	checks := make(map[string]CheckResult, len(s.models)+1)
	record := func(name string, err error) {
		res := CheckOK
		if err != nil {
			res = CheckError
		}
		mu.Lock()
		checks[name] = res
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		record("vector_store", s.store.Ping(pctx))
		return nil
	})
	for _, m := range s.models {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			record("model:"+m.Name(), m.HealthCheck(pctx))
			return nil
		})
	}
	_ = g.Wait()

	var circuits []resilience.CircuitState
	if s.circuits != nil {
		circuits = s.circuits.States()
	}

	status := Healthy
	for name, v := range checks {
		if v != CheckError {
			continue
		}
		if name == "vector_store" {
			status = Unhealthy
			break
		}
		status = Degraded
	}
	if status == Healthy {
		for _, c := range circuits {
			if c.State != resilience.Closed {
				status = Degraded
				break
			}
		}
	}

	return Report{Status: status, Checks: checks, Circuits: circuits}
}
