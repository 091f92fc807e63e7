// Package redis implements the vector store connector over a Redis 8 / Valkey
// FT index. Records are HASH documents under a per-collection key prefix.
package redis

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/db"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

var tracer = otel.Tracer("vecgate.vectorstore.redis")

const writeBatchSize = 500

var _ vectorstore.Store = (*Store)(nil)

// store is the consumer interface for the FT driver (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	DelMulti(ctx context.Context, keys []string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	Ping(ctx context.Context) error
}

// Store implements vectorstore.Store on top of db.Store.
type Store struct {
	store    store
	identity string
	hnsw     HNSWDefaults
	logger   *zap.Logger
	closeFn  func()
}

// HNSWDefaults apply when a collection's index hints leave M or EF_CONSTRUCTION unset.
type HNSWDefaults struct {
	M           int
	EFConstruct int
}

// Option configures a Store.
type Option func(*Store)

// WithHNSW overrides the HNSW defaults.
func WithHNSW(h HNSWDefaults) Option {
	return func(s *Store) {
		if h.M > 0 {
			s.hnsw.M = h.M
		}
		if h.EFConstruct > 0 {
			s.hnsw.EFConstruct = h.EFConstruct
		}
	}
}

// WithCloser sets the function Close calls, typically the shared client's Close.
func WithCloser(fn func()) Option { return func(s *Store) { s.closeFn = fn } }

// New creates an FT-backed vector store.
func New(s store, identity string, logger *zap.Logger, opts ...Option) *Store {
	if identity == "" {
		identity = vectorstore.DriverRedis
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st := &Store{
		store:    s,
		identity: identity,
		hnsw:     HNSWDefaults{M: 32, EFConstruct: 400},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Identity returns the backend identity.
func (s *Store) Identity() string { return s.identity }

// WriteBatchSize returns the preferred Upsert chunk size.
func (s *Store) WriteBatchSize() int { return writeBatchSize }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return vectorstore.Classify("redis ping", s.store.Ping(ctx))
}

// Close runs the configured closer.
func (s *Store) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// EnsureCollection creates the FT index when it does not exist.
func (s *Store) EnsureCollection(ctx context.Context, cfg collection.Config) error {
	ctx, span := tracer.Start(ctx, "redis.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()))

	idx := indexName(cfg.Name())
	exists, err := s.store.IndexExists(ctx, idx)
	if err != nil {
		return vectorstore.Classify("index exists", err)
	}
	if exists {
		return nil
	}

	def, err := buildIndex(cfg, s.hnsw)
	if err != nil {
		return domain.InvalidArgumentf("collection %q index: %v", cfg.Name(), err)
	}
	if err := s.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vectorstore.Classify("create index", err)
	}

	s.logger.Info("redis vector index created",
		zap.String("collection", cfg.Name()),
		zap.String("index", idx),
		zap.Int("dimension", cfg.Dimension()),
	)
	return nil
}

// Upsert writes records as hashes in one pipeline.
func (s *Store) Upsert(ctx context.Context, cfg collection.Config, records []domain.Record) error {
	ctx, span := tracer.Start(ctx, "redis.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("records", len(records)))

	if len(records) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, len(records))
	for i := range records {
		fields, err := buildHashFields(cfg, &records[i])
		if err != nil {
			return err
		}
		items[i] = db.HashSetItem{Key: docKey(cfg.Name(), records[i].ID), Fields: fields}
	}
	if err := s.store.HSetMulti(ctx, items); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vectorstore.Classify("upsert", err)
	}
	return nil
}

// Delete removes record hashes. DEL of a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, cfg collection.Config, ids []string) error {
	ctx, span := tracer.Start(ctx, "redis.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("ids", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(cfg.Name(), id)
	}
	if err := s.store.DelMulti(ctx, keys); err != nil {
		span.RecordError(err)
		return vectorstore.Classify("delete", err)
	}
	return nil
}

// Search runs FT.SEARCH KNN with the filter as a pre-filter.
func (s *Store) Search(
	ctx context.Context, cfg collection.Config, vector []float32, limit int, f filter.Expression,
) ([]domain.ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("limit", limit))

	sr, err := s.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(cfg.Name()),
		Filters:      f,
		Vector:       vector,
		K:            limit,
		ReturnFields: []string{fieldID, fieldPayload, "__vector_score"},
		Distance:     distance(cfg.Metric()),
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, fmt.Errorf("collection %q: %w", cfg.Name(), domain.ErrNotFound)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, vectorstore.Classify("search", err)
	}
	if sr == nil {
		return []domain.ScoredRecord{}, nil
	}

	out := make([]domain.ScoredRecord, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		hit, err := parseHit(cfg.Name(), e)
		if err != nil {
			return nil, vectorstore.Classify("search", err)
		}
		out = append(out, hit)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func distance(m collection.Metric) db.DistanceMetric {
	switch m {
	case collection.Dot:
		return db.DistanceIP
	case collection.Euclidean:
		return db.DistanceL2
	default:
		return db.DistanceCosine
	}
}
