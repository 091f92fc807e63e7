package health

import (
	"context"

	"github.com/kailas-cloud/vecgate/internal/resilience"
)

// Pinger checks vector store availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelChecker checks one model server (implemented by *embedding.Model).
type ModelChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// CircuitReader reports breaker states (implemented by *resilience.Manager).
type CircuitReader interface {
	States() []resilience.CircuitState
}
