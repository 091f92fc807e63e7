package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/cache"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
	"github.com/kailas-cloud/vecgate/internal/registry"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
	"github.com/kailas-cloud/vecgate/internal/vectorstore/memory"
)

type fixture struct {
	svc    *Service
	reg    *registry.Registry
	store  *countingStore
	engine *cache.Engine
	embed  *fakeEmbedder
}

// newFixture wires the gateway over an in-process store with a "docs" collection
// (dim 4, cosine, bound to "minilm") and an L1-only cache.
func newFixture(t *testing.T, tune func(*registry.Tunables)) *fixture {
	t.Helper()
	tun := registry.DefaultTunables()
	tun.Cache.L2Enabled = false
	tun.Warming.Enabled = false
	tun.Resilience.Retry.Base = time.Millisecond
	tun.Resilience.Retry.Max = 5 * time.Millisecond
	if tune != nil {
		tune(&tun)
	}
	reg, err := registry.New(tun)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	docs, err := collection.New("docs", 4, collection.Cosine, collection.WithBoundModel("minilm"))
	if err != nil {
		t.Fatalf("collection.New: %v", err)
	}
	if err := reg.Register(docs); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := &countingStore{Store: memory.New("memory", nil)}
	if err := store.EnsureCollection(context.Background(), docs); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	f := &fixture{
		reg:    reg,
		store:  store,
		engine: cache.NewEngine(reg, zap.NewNop()),
		embed:  &fakeEmbedder{},
	}
	f.svc = New(reg, store, resilience.NewManager(reg, zap.NewNop()),
		WithCache(f.engine),
		WithEmbedder(f.embed),
	)
	return f
}

// --- Mocks ---

// countingStore counts backend calls and can block searches or fail upserts.
type countingStore struct {
	vectorstore.Store

	searches atomic.Int64
	upserts  atomic.Int64
	deletes  atomic.Int64

	// release, when set, holds every Search until it is closed.
	release chan struct{}
	// batchSize overrides WriteBatchSize when > 0.
	batchSize int
	// failUpsert fails any Upsert chunk containing that id.
	failUpsert string
}

func (s *countingStore) Search(
	ctx context.Context, cfg collection.Config, vector []float32, limit int, f filter.Expression,
) ([]domain.ScoredRecord, error) {
	s.searches.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Store.Search(ctx, cfg, vector, limit, f)
}

func (s *countingStore) Upsert(ctx context.Context, cfg collection.Config, records []domain.Record) error {
	s.upserts.Add(1)
	for _, r := range records {
		if s.failUpsert != "" && r.ID == s.failUpsert {
			return fmt.Errorf("upsert %q: %w", r.ID, domain.ErrInternal)
		}
	}
	return s.Store.Upsert(ctx, cfg, records)
}

func (s *countingStore) Delete(ctx context.Context, cfg collection.Config, ids []string) error {
	s.deletes.Add(1)
	return s.Store.Delete(ctx, cfg, ids)
}

func (s *countingStore) WriteBatchSize() int {
	if s.batchSize > 0 {
		return s.batchSize
	}
	return s.Store.WriteBatchSize()
}

func (s *countingStore) calls() int64 {
	return s.searches.Load() + s.upserts.Load() + s.deletes.Load()
}

// fakeEmbedder maps texts to fixed vectors. Unknown texts get {1, 0, 0, 0};
// the text "broken" fails per item.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	queries []string
	bulk    [][]string
	err     error
}

func (e *fakeEmbedder) set(text string, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vectors == nil {
		e.vectors = map[string][]float32{}
	}
	e.vectors[text] = v
}

func (e *fakeEmbedder) vector(text string) []float32 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	return []float32{1, 0, 0, 0}
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, _ string, _ domain.EmbedMode, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, text)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string, _ domain.EmbedMode, texts []string) (embedding.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bulk = append(e.bulk, texts)
	if e.err != nil {
		return embedding.Result{}, e.err
	}
	res := embedding.Result{Items: make([]embedding.Item, len(texts))}
	for i, text := range texts {
		res.Items[i].Index = i
		if text == "broken" {
			res.Items[i].Err = domain.InvalidArgumentf("text rejected")
			continue
		}
		res.Items[i].Vector = e.vector(text)
	}
	return res, nil
}

// failingCache serves misses and fails every invalidation.
type failingCache struct{}

func (failingCache) Get(_ context.Context, key cache.Key) cache.Lookup { return cache.Lookup{Key: key} }

func (failingCache) Stamp(_ context.Context, key cache.Key) cache.Key { return key }

func (failingCache) Put(context.Context, cache.Key, []byte, time.Duration) {}

// lookupCountingCache counts read-path lookups on a real engine.
type lookupCountingCache struct {
	*cache.Engine
	lookups atomic.Int64
}

func (c *lookupCountingCache) Get(ctx context.Context, key cache.Key) cache.Lookup {
	c.lookups.Add(1)
	return c.Engine.Get(ctx, key)
}

func (failingCache) InvalidateCollection(context.Context, string) error {
	return errors.Join(domain.ErrInternal, errors.New("l2 down"))
}
