package embedding

import (
	"context"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/resilience"
)

// Guard runs a backend call under the resilience policy of one backend identity.
type Guard interface {
	Do(ctx context.Context, kind resilience.CallKind, fn func(ctx context.Context) error) error
}

// GuardedServer sends every call of a model server through its guard
// (bulkhead, breaker, retry, timeout).
type GuardedServer struct {
	inner domain.ModelServer
	guard Guard
}

// NewGuardedServer wraps a model server. A nil guard calls straight through.
func NewGuardedServer(inner domain.ModelServer, guard Guard) *GuardedServer {
	return &GuardedServer{inner: inner, guard: guard}
}

// Identity returns the backend identity of the wrapped server.
func (g *GuardedServer) Identity() string { return g.inner.Identity() }

// Embed implements domain.Embedder.
func (g *GuardedServer) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var res domain.EmbeddingResult
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.inner.Embed(ctx, text)
		return err
	})
	return res, err
}

// BatchEmbed implements domain.BatchEmbedder.
func (g *GuardedServer) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var res domain.BatchEmbeddingResult
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.inner.BatchEmbed(ctx, texts)
		return err
	})
	return res, err
}

// HealthCheck is not guarded: health checks neither take bulkhead slots nor count toward the breaker.
func (g *GuardedServer) HealthCheck(ctx context.Context) error { return g.inner.HealthCheck(ctx) }

func (g *GuardedServer) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.guard == nil {
		return fn(ctx)
	}
	return g.guard.Do(ctx, resilience.CallEmbed, fn)
}
