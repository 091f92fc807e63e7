// Package cache is the two-level search result cache: an in-process LRU (L1) in front
// of a shared Redis/Valkey level (L2), with synchronous per-collection invalidation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/metrics"
	"github.com/kailas-cloud/vecgate/internal/registry"
)

// Level names the cache level that served a lookup.
type Level string

// Cache levels.
const (
	Miss    Level = ""
	LevelL1 Level = "l1"
	LevelL2 Level = "l2"
)

// Lookup is the outcome of Get. Its Key is stamped and should be passed to Put.
type Lookup struct {
	Key   Key
	Value []byte
	Level Level
}

// Hit reports whether either level served the lookup.
func (l Lookup) Hit() bool { return l.Level != Miss }

// TunablesSource supplies cache knobs (implemented by *registry.Registry).
type TunablesSource interface {
	Tunables() registry.Tunables
}

// Publisher announces local invalidations to peer instances.
type Publisher interface {
	PublishInvalidation(ctx context.Context, collection string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithL2 enables the shared level.
func WithL2(l2 *L2) Option { return func(e *Engine) { e.l2 = l2 } }

// WithPublisher fans invalidations out to peers.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine composes L1 and L2. Cache failures on the read path degrade to misses;
// invalidation failures are returned so a write never acks over a stale cache.
type Engine struct {
	l1     *L1
	l2     *L2
	pub    Publisher
	source TunablesSource
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	hooks []func(collection string)
}

// NewEngine creates an engine. The L1 byte budget follows the tunables on every access.
func NewEngine(source TunablesSource, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{source: source, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	t := source.Tunables().Cache
	e.l1 = NewL1(t.L1BudgetBytes, e.now)
	if e.l2 != nil {
		e.l2.now = e.now
		// The L2 budget is the server's maxmemory with allkeys-lru; the gateway only reports it.
		logger.Info("Shared cache enabled",
			zap.Int64("l2_budget_bytes", t.L2BudgetBytes),
			zap.Duration("l2_ttl", t.L2TTL),
		)
	}
	return e
}

// OnInvalidate registers fn to run after every local collection invalidation.
func (e *Engine) OnInvalidate(fn func(collection string)) {
	e.mu.Lock()
	e.hooks = append(e.hooks, fn)
	e.mu.Unlock()
}

// L1 exposes the in-process level for stats.
func (e *Engine) L1() *L1 { return e.l1 }

// tunables returns the cache knobs and applies a changed L1 budget.
func (e *Engine) tunables() registry.CacheTunables {
	t := e.source.Tunables().Cache
	e.l1.Resize(t.L1BudgetBytes)
	return t
}

func (e *Engine) useL2(t registry.CacheTunables) bool { return e.l2 != nil && t.L2Enabled }

// Get looks key up in L1 then L2. An L2 hit is copied into L1, capped at the
// L2 entry's remaining lifetime.
func (e *Engine) Get(ctx context.Context, key Key) Lookup {
	t := e.tunables()
	if !t.Enabled {
		key.l1Gen = e.l1.Generation(key.Collection)
		return Lookup{Key: key}
	}

	key.stamped = true
	key.l1Gen = e.l1.Generation(key.Collection)
	if v, _, ok := e.l1.Get(key); ok {
		e.observe(LevelL1, true)
		return Lookup{Key: key, Value: v, Level: LevelL1}
	}
	e.observe(LevelL1, false)

	if !e.useL2(t) {
		metrics.ObserveCacheLookup("")
		return Lookup{Key: key}
	}

	gen, err := e.l2.Generation(ctx, key.Collection)
	if err != nil {
		e.logger.Warn("Shared cache unavailable", zap.String("collection", key.Collection), zap.Error(err))
		metrics.ObserveCacheLookup("")
		return Lookup{Key: key}
	}
	key.l2Gen, key.l2OK = gen, true

	v, exp, ok, err := e.l2.Get(ctx, key, gen)
	if err != nil {
		e.logger.Warn("Failed to read shared cache", zap.String("collection", key.Collection), zap.Error(err))
	}
	if !ok {
		e.observe(LevelL2, false)
		metrics.ObserveCacheLookup("")
		return Lookup{Key: key}
	}
	e.observe(LevelL2, true)

	if l1Exp := e.now().Add(t.L1TTL); l1Exp.Before(exp) {
		exp = l1Exp
	}
	e.l1.Set(key, key.l1Gen, v, exp)
	return Lookup{Key: key, Value: v, Level: LevelL2}
}

// Put stores value (a JSON document) on both levels. ttl <= 0 uses the configured TTLs;
// a shorter ttl caps both. The L1 copy never outlives the L2 copy.
func (e *Engine) Put(ctx context.Context, key Key, value []byte, ttl time.Duration) {
	t := e.tunables()
	if !t.Enabled {
		return
	}
	if !key.stamped {
		key = e.stamp(ctx, key, t)
	}

	l1TTL := t.L1TTL
	l2TTL := t.L2TTL
	if ttl > 0 {
		l1TTL = min(l1TTL, ttl)
		l2TTL = min(l2TTL, ttl)
	}
	writeL2 := e.useL2(t) && key.l2OK
	if writeL2 {
		l1TTL = min(l1TTL, l2TTL)
	}

	e.l1.Set(key, key.l1Gen, value, e.now().Add(l1TTL))

	if writeL2 {
		if err := e.l2.Set(ctx, key, key.l2Gen, value, l2TTL); err != nil {
			e.logger.Warn("Failed to write shared cache", zap.String("collection", key.Collection), zap.Error(err))
		}
	}
}

// Stamp tags key with the current generations of both levels without reading
// either level or recording a lookup. Pass the result to Put.
func (e *Engine) Stamp(ctx context.Context, key Key) Key {
	return e.stamp(ctx, key, e.tunables())
}

func (e *Engine) stamp(ctx context.Context, key Key, t registry.CacheTunables) Key {
	key.stamped = true
	key.l1Gen = e.l1.Generation(key.Collection)
	if e.useL2(t) {
		gen, err := e.l2.Generation(ctx, key.Collection)
		if err == nil {
			key.l2Gen, key.l2OK = gen, true
		}
	}
	return key
}

// InvalidateCollection makes every cached result of collection unreachable on both
// levels before returning, then notifies peers and re-warming hooks.
func (e *Engine) InvalidateCollection(ctx context.Context, collection string) error {
	var l2Err error
	if e.l2 != nil {
		_, l2Err = e.l2.Invalidate(ctx, collection)
	}
	e.l1.Invalidate(collection)
	metrics.CacheInvalidationsTotal.WithLabelValues("collection", "local").Inc()

	if l2Err != nil {
		return fmt.Errorf("%w: invalidate cache of %s: %w", domain.ErrInternal, collection, l2Err)
	}

	if e.pub != nil {
		if err := e.pub.PublishInvalidation(ctx, collection); err != nil {
			e.logger.Warn("Failed to notify peers of invalidation",
				zap.String("collection", collection), zap.Error(err))
		}
	}

	e.mu.RLock()
	hooks := e.hooks
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(collection)
	}
	return nil
}

// ApplyPeerInvalidation drops L1 entries after a peer invalidated collection.
// The peer has already advanced the L2 generation.
func (e *Engine) ApplyPeerInvalidation(collection string) {
	e.l1.Invalidate(collection)
	metrics.CacheInvalidationsTotal.WithLabelValues("collection", "peer").Inc()
}

// InvalidateKey drops a single entry from both levels.
func (e *Engine) InvalidateKey(ctx context.Context, key Key) error {
	e.l1.Remove(key)
	metrics.CacheInvalidationsTotal.WithLabelValues("key", "local").Inc()
	if e.l2 == nil {
		return nil
	}
	gen, err := e.l2.Generation(ctx, key.Collection)
	if err == nil {
		err = e.l2.Delete(ctx, key, gen)
	}
	if err != nil {
		return fmt.Errorf("%w: invalidate cache key: %w", domain.ErrInternal, err)
	}
	return nil
}

func (e *Engine) observe(level Level, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
		metrics.ObserveCacheLookup(string(level))
	}
	metrics.CacheRequestsTotal.WithLabelValues(string(level), result).Inc()
}
