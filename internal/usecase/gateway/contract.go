package gateway

import (
	"context"
	"time"

	"github.com/kailas-cloud/vecgate/internal/cache"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
)

// Collections resolves collection configs (implemented by *registry.Registry).
type Collections interface {
	Get(name string) (collection.Config, error)
}

// Cache is the search result cache (implemented by *cache.Engine).
type Cache interface {
	Get(ctx context.Context, key cache.Key) cache.Lookup
	Stamp(ctx context.Context, key cache.Key) cache.Key
	Put(ctx context.Context, key cache.Key, value []byte, ttl time.Duration)
	InvalidateCollection(ctx context.Context, collection string) error
}

// Guards hands out the resilience guard of a backend (implemented by *resilience.Manager).
type Guards interface {
	Guard(identity string) *resilience.Guard
}

// Embedder embeds query and record texts with a collection's bound model
// (implemented by *embedding.Service).
type Embedder interface {
	EmbedQuery(ctx context.Context, model string, mode domain.EmbedMode, text string) ([]float32, error)
	Embed(ctx context.Context, model string, mode domain.EmbedMode, texts []string) (embedding.Result, error)
}

// Tracker observes searches served on the request path (implemented by *cache.Warmer).
type Tracker interface {
	Track(op operation.Operation)
}
