package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/metrics"
	"github.com/kailas-cloud/vecgate/internal/repository/embcache"
)

// CacheStore is the key-value store behind the hybrid strategy.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Model is a named model server with its decorator chain:
// server -> guard -> budget/usage -> (embedding cache).
type Model struct {
	name     string
	server   domain.ModelServer
	budget   *BudgetTracker
	realtime *InstrumentedEmbedder
	cached   domain.Embedder
	query    string
}

// ModelOption configures a Model.
type ModelOption func(*modelConfig)

type modelConfig struct {
	guard      Guard
	budget     *BudgetTracker
	cacheStore CacheStore
	cacheTTL   time.Duration
	query      string
	logger     *zap.Logger
}

// WithGuard runs model calls through the backend's resilience guard.
func WithGuard(g Guard) ModelOption { return func(c *modelConfig) { c.guard = g } }

// WithBudget enforces a token budget.
func WithBudget(b *BudgetTracker) ModelOption { return func(c *modelConfig) { c.budget = b } }

// WithEmbeddingCache enables the hybrid strategy's cache.
func WithEmbeddingCache(s CacheStore, ttl time.Duration) ModelOption {
	return func(c *modelConfig) {
		c.cacheStore = s
		c.cacheTTL = ttl
	}
}

// WithQueryInstruction prefixes search query texts, e.g. "query: " for E5 models.
func WithQueryInstruction(prefix string) ModelOption { return func(c *modelConfig) { c.query = prefix } }

// WithModelLogger sets the logger of the decorator chain.
func WithModelLogger(l *zap.Logger) ModelOption { return func(c *modelConfig) { c.logger = l } }

// NewModel assembles the decorator chain for a model server.
func NewModel(name string, server domain.ModelServer, opts ...ModelOption) *Model {
	cfg := modelConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var budget BudgetChecker
	if cfg.budget != nil {
		budget = cfg.budget
	}
	guarded := NewGuardedServer(server, cfg.guard)
	realtime := NewInstrumentedEmbedder(guarded, server.Identity(), name, budget, cfg.logger)

	m := &Model{
		name:     name,
		server:   server,
		budget:   cfg.budget,
		realtime: realtime,
		query:    cfg.query,
	}
	if cfg.cacheStore != nil {
		m.cached = embcache.New(realtime, name, cfg.cacheStore, cfg.logger,
			embcache.WithTTL(cfg.cacheTTL),
			embcache.WithCounter(metrics.EmbeddingCacheTotal),
		)
	}
	return m
}

// Name returns the model name collections bind to.
func (m *Model) Name() string { return m.name }

// Identity returns the backend identity of the model server.
func (m *Model) Identity() string { return m.server.Identity() }

// Budget returns the model's budget tracker, or nil.
func (m *Model) Budget() *BudgetTracker { return m.budget }

// HealthCheck checks the model server.
func (m *Model) HealthCheck(ctx context.Context) error { return m.server.HealthCheck(ctx) }

// embedder returns the chain for mode. Without a cache hybrid degrades to realtime.
func (m *Model) embedder(mode domain.EmbedMode) domain.Embedder {
	if mode == domain.EmbedHybrid && m.cached != nil {
		return m.cached
	}
	return m.realtime
}

// queryEmbedder adds the query instruction on top of embedder(mode).
func (m *Model) queryEmbedder(mode domain.EmbedMode) domain.Embedder {
	e := m.embedder(mode)
	if m.query == "" {
		return e
	}
	return domain.NewInstructionEmbedder(e, m.query)
}
