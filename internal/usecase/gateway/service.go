// Package gateway executes canonical operations: validation, the search result
// cache, query and record embedding, and guarded vector store calls.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/vecgate/internal/cache"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/batch"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

// Service runs operations against one vector store.
type Service struct {
	colls   Collections
	store   vectorstore.Store
	guards  Guards
	cache   Cache
	embed   Embedder
	tracker Tracker
	logger  *zap.Logger
	flights singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithCache serves searches through the result cache.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithEmbedder enables text queries and text records.
func WithEmbedder(e Embedder) Option { return func(s *Service) { s.embed = e } }

// WithTracker reports served searches to the cache warmer.
func WithTracker(t Tracker) Option { return func(s *Service) { s.tracker = t } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates the gateway service.
func New(colls Collections, store vectorstore.Store, guards Guards, opts ...Option) *Service {
	s := &Service{colls: colls, store: store, guards: guards, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute validates op and runs it. Validation errors never reach the cache or the store.
func (s *Service) Execute(ctx context.Context, op operation.Operation) (operation.Result, error) {
	cfg, err := s.colls.Get(op.Collection())
	if err != nil {
		return operation.Result{}, err
	}
	if err := validate(op, cfg); err != nil {
		return operation.Result{}, err
	}

	switch op.Kind() {
	case operation.Search:
		return s.search(ctx, op, cfg)
	case operation.Upsert:
		return s.upsert(ctx, op, cfg)
	case operation.Delete:
		return s.delete(ctx, op, cfg)
	case operation.Batch:
		return s.batch(ctx, op, cfg)
	default:
		return operation.Result{}, domain.InvalidArgumentf("unknown operation kind %q", op.Kind())
	}
}

// Warm re-runs a tracked search against the store and refreshes its cache entry.
func (s *Service) Warm(ctx context.Context, op operation.Operation) error {
	cfg, err := s.colls.Get(op.Collection())
	if err != nil {
		return err
	}
	if err := validate(op, cfg); err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	// Stamp before the backend read so an invalidation racing the warm-up wins.
	key := s.cache.Stamp(ctx, fingerprint(op, cfg))
	hits, err := s.searchStore(ctx, op, cfg)
	if err != nil {
		return err
	}
	return s.putHits(ctx, key, hits)
}

func (s *Service) guard() *resilience.Guard { return s.guards.Guard(s.store.Identity()) }

func fingerprint(op operation.Operation, cfg collection.Config) cache.Key {
	return cache.Fingerprint(cache.Query{
		Collection: cfg.Name(),
		Metric:     cfg.Metric(),
		Vector:     op.Vector(),
		Filter:     op.Filter(),
		Limit:      op.Limit(),
	})
}

func (s *Service) search(ctx context.Context, op operation.Operation, cfg collection.Config) (operation.Result, error) {
	if len(op.Vector()) == 0 {
		vec, err := s.embedQuery(ctx, op, cfg)
		if err != nil {
			return operation.Result{}, err
		}
		op = op.WithResolvedVector(vec)
	}

	if s.cache == nil {
		hits, err := s.searchStore(ctx, op, cfg)
		if err != nil {
			return operation.Result{}, err
		}
		return operation.Result{Kind: operation.Search, Hits: hits}, nil
	}

	lookup := s.cache.Get(ctx, fingerprint(op, cfg))
	if lookup.Hit() {
		var hits []domain.ScoredRecord
		if err := json.Unmarshal(lookup.Value, &hits); err == nil {
			s.track(op)
			return operation.Result{Kind: operation.Search, Hits: hits, CacheLevel: string(lookup.Level)}, nil
		}
		s.logger.Warn("Dropping undecodable cache entry", zap.String("collection", cfg.Name()))
	}

	// Identical misses of the same cache generation share one backend call. The shared
	// call is detached from its first caller and bounded by the guard's search timeout;
	// each caller waits only as long as its own context allows.
	flight := s.flights.DoChan(lookup.Key.FlightKey(), func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		hits, err := s.searchStore(fctx, op, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.putHits(fctx, lookup.Key, hits); err != nil {
			s.logger.Warn("Failed to encode search result", zap.Error(err))
		}
		return hits, nil
	})
	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return operation.Result{}, fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
	}
	if res.Err != nil {
		return operation.Result{}, res.Err
	}
	hits := res.Val.([]domain.ScoredRecord)
	if res.Shared {
		hits = cloneHits(hits)
	}
	s.track(op)
	return operation.Result{Kind: operation.Search, Hits: hits}, nil
}

func (s *Service) embedQuery(ctx context.Context, op operation.Operation, cfg collection.Config) ([]float32, error) {
	if s.embed == nil {
		return nil, domain.InvalidArgumentf("text search is not enabled")
	}
	vec, err := s.embed.EmbedQuery(ctx, cfg.BoundModel(), op.EmbedMode(), op.Text())
	if err != nil {
		return nil, err
	}
	if len(vec) != cfg.Dimension() {
		return nil, fmt.Errorf("model %q: %w", cfg.BoundModel(), domain.DimensionError(len(vec), cfg.Dimension()))
	}
	return vec, nil
}

func (s *Service) searchStore(ctx context.Context, op operation.Operation, cfg collection.Config) ([]domain.ScoredRecord, error) {
	var hits []domain.ScoredRecord
	err := s.guard().Do(ctx, resilience.CallSearch, func(ctx context.Context) error {
		var err error
		hits, err = s.store.Search(ctx, cfg, op.Vector(), op.Limit(), op.Filter())
		return err
	})
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []domain.ScoredRecord{}
	}
	return hits, nil
}

func (s *Service) putHits(ctx context.Context, key cache.Key, hits []domain.ScoredRecord) error {
	raw, err := json.Marshal(hits)
	if err != nil {
		return err
	}
	s.cache.Put(ctx, key, raw, 0)
	return nil
}

func (s *Service) track(op operation.Operation) {
	if s.tracker != nil {
		s.tracker.Track(op)
	}
}

func (s *Service) upsert(ctx context.Context, op operation.Operation, cfg collection.Config) (operation.Result, error) {
	records := domain.CloneRecords(op.Records())
	items, err := s.embedRecords(ctx, cfg, records)
	if err != nil {
		return operation.Result{}, err
	}
	for _, it := range items {
		if it.Status() == batch.StatusError {
			return operation.Result{}, fmt.Errorf("record %q: %w", it.ID(), it.Err())
		}
	}

	err = s.guard().Do(ctx, resilience.CallUpsert, func(ctx context.Context) error {
		return s.store.Upsert(ctx, cfg, records)
	})
	if err != nil {
		return operation.Result{}, err
	}
	if err := s.invalidate(ctx, cfg.Name()); err != nil {
		return operation.Result{}, err
	}
	return operation.Result{Kind: operation.Upsert, Affected: len(records)}, nil
}

func (s *Service) delete(ctx context.Context, op operation.Operation, cfg collection.Config) (operation.Result, error) {
	err := s.guard().Do(ctx, resilience.CallDelete, func(ctx context.Context) error {
		return s.store.Delete(ctx, cfg, op.IDs())
	})
	if err != nil {
		return operation.Result{}, err
	}
	if err := s.invalidate(ctx, cfg.Name()); err != nil {
		return operation.Result{}, err
	}
	return operation.Result{Kind: operation.Delete, Affected: len(op.IDs())}, nil
}

// batch writes records in chunks of the store's write size and reports per item.
// The collection is invalidated once, before the ack, if anything was written.
func (s *Service) batch(ctx context.Context, op operation.Operation, cfg collection.Config) (operation.Result, error) {
	records := domain.CloneRecords(op.Records())
	items, err := s.embedRecords(ctx, cfg, records)
	if err != nil {
		return operation.Result{}, err
	}

	pending := make([]int, 0, len(records))
	for i := range records {
		if items[i].Status() == batch.StatusError {
			continue
		}
		if len(records[i].Vector) != cfg.Dimension() {
			items[i] = batch.NewError(records[i].ID, domain.DimensionError(len(records[i].Vector), cfg.Dimension()))
			continue
		}
		pending = append(pending, i)
	}

	size := s.store.WriteBatchSize()
	if size <= 0 {
		size = len(pending)
	}
	for start := 0; start < len(pending); start += size {
		idx := pending[start:min(start+size, len(pending))]
		chunk := make([]domain.Record, len(idx))
		for j, i := range idx {
			chunk[j] = records[i]
		}
		err := s.guard().Do(ctx, resilience.CallUpsert, func(ctx context.Context) error {
			return s.store.Upsert(ctx, cfg, chunk)
		})
		for _, i := range idx {
			if err != nil {
				items[i] = batch.NewError(records[i].ID, err)
			} else {
				items[i] = batch.NewOK(records[i].ID)
			}
		}
		if err != nil {
			s.logger.Warn("Batch chunk failed",
				zap.String("collection", cfg.Name()),
				zap.Int("offset", start),
				zap.Int("records", len(idx)),
				zap.Error(err),
			)
		}
	}

	ok := batch.CountOK(items)
	if ok > 0 {
		if err := s.invalidate(ctx, cfg.Name()); err != nil {
			return operation.Result{}, err
		}
	}
	return operation.Result{Kind: operation.Batch, Items: items, Affected: ok}, nil
}

// embedRecords fills in vectors of text-only records in place with the bulk strategy. The
// returned items mark records whose text could not be embedded; the rest are OK.
func (s *Service) embedRecords(ctx context.Context, cfg collection.Config, records []domain.Record) ([]batch.Result, error) {
	items := make([]batch.Result, len(records))
	var texts []string
	var idx []int
	for i, r := range records {
		items[i] = batch.NewOK(r.ID)
		if len(r.Vector) == 0 {
			texts = append(texts, r.Text)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return items, nil
	}
	if s.embed == nil {
		return nil, domain.InvalidArgumentf("text records are not enabled")
	}

	res, err := s.embed.Embed(ctx, cfg.BoundModel(), domain.EmbedBulk, texts)
	if err != nil {
		return nil, err
	}
	for j, it := range res.Items {
		i := idx[j]
		if it.Err != nil {
			items[i] = batch.NewError(records[i].ID, it.Err)
			continue
		}
		records[i].Vector = it.Vector
		if len(it.Vector) != cfg.Dimension() {
			items[i] = batch.NewError(records[i].ID,
				fmt.Errorf("model %q: %w", cfg.BoundModel(), domain.DimensionError(len(it.Vector), cfg.Dimension())))
		}
	}
	return items, nil
}

// invalidate must succeed before a write is acknowledged.
func (s *Service) invalidate(ctx context.Context, collection string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateCollection(ctx, collection)
}

func cloneHits(in []domain.ScoredRecord) []domain.ScoredRecord {
	out := make([]domain.ScoredRecord, len(in))
	copy(out, in)
	return out
}
