// Package memory is an in-process vector store backed by chromem-go, used for
// local development and tests.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

var tracer = otel.Tracer("vecgate.vectorstore.memory")

const (
	metaPayload = "_payload"
	metaVector  = "_vector"

	writeBatchSize = 1000
)

var _ vectorstore.Store = (*Store)(nil)

var errNoEmbedder = errors.New("memory store only accepts precomputed vectors")

// Store keeps every collection in a chromem.DB. chromem normalizes vectors on
// insert, so the raw vector is kept in metadata for dot and euclidean scoring.
type Store struct {
	db       *chromem.DB
	identity string
	logger   *zap.Logger
}

// New creates an empty in-memory store.
func New(identity string, logger *zap.Logger) *Store {
	if identity == "" {
		identity = vectorstore.DriverMemory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: chromem.NewDB(), identity: identity, logger: logger}
}

// Identity returns the backend identity.
func (s *Store) Identity() string { return s.identity }

// WriteBatchSize returns the preferred Upsert chunk size.
func (s *Store) WriteBatchSize() int { return writeBatchSize }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func noEmbedding(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }

// EnsureCollection creates the collection when missing.
func (s *Store) EnsureCollection(_ context.Context, cfg collection.Config) error {
	_, err := s.db.GetOrCreateCollection(cfg.Name(), map[string]string{
		"metric": string(cfg.Metric()),
	}, noEmbedding)
	if err != nil {
		return vectorstore.Classify("ensure collection", err)
	}
	s.logger.Debug("memory collection ensured", zap.String("collection", cfg.Name()))
	return nil
}

// Upsert adds or replaces records.
func (s *Store) Upsert(ctx context.Context, cfg collection.Config, records []domain.Record) error {
	ctx, span := tracer.Start(ctx, "memory.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("records", len(records)))

	if len(records) == 0 {
		return nil
	}
	col, err := s.db.GetOrCreateCollection(cfg.Name(), nil, noEmbedding)
	if err != nil {
		return vectorstore.Classify("upsert", err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		meta := map[string]string{metaVector: encodeVector(r.Vector)}
		if len(r.Payload) > 0 {
			raw, err := json.Marshal(r.Payload)
			if err != nil {
				return domain.InvalidArgumentf("record %q payload: %v", r.ID, err)
			}
			meta[metaPayload] = string(raw)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  meta,
			Embedding: slices.Clone(r.Vector),
		}
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vectorstore.Classify("upsert", err)
	}
	return nil
}

// Delete removes ids; missing ids and missing collections are ignored.
func (s *Store) Delete(ctx context.Context, cfg collection.Config, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col := s.db.GetCollection(cfg.Name(), noEmbedding)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return vectorstore.Classify("delete", err)
	}
	return nil
}

// Search ranks by chromem's cosine similarity. Filtered searches and dot or
// euclidean collections scan the whole collection and re-score in Go.
func (s *Store) Search(
	ctx context.Context, cfg collection.Config, vector []float32, limit int, f filter.Expression,
) ([]domain.ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("limit", limit))

	col := s.db.GetCollection(cfg.Name(), noEmbedding)
	if col == nil {
		return nil, fmt.Errorf("collection %q: %w", cfg.Name(), domain.ErrNotFound)
	}
	count := col.Count()
	if count == 0 || limit <= 0 {
		return []domain.ScoredRecord{}, nil
	}

	scan := !f.IsEmpty() || cfg.Metric() != collection.Cosine
	n := min(limit, count)
	if scan {
		n = count
	}

	res, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, vectorstore.Classify("search", err)
	}

	out := make([]domain.ScoredRecord, 0, min(limit, len(res)))
	for _, r := range res {
		payload, err := decodePayload(r.Metadata[metaPayload])
		if err != nil {
			return nil, vectorstore.Classify("search", err)
		}
		if !f.IsEmpty() && !f.Matches(payload) {
			continue
		}
		hit := domain.ScoredRecord{ID: r.ID, Score: float64(r.Similarity), Payload: payload}
		if cfg.Metric() != collection.Cosine {
			hit.Score = score(cfg.Metric(), vector, decodeVector(r.Metadata[metaVector]))
		}
		out = append(out, hit)
	}

	if scan {
		sortHits(cfg.Metric(), out)
		if len(out) > limit {
			out = out[:limit]
		}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func sortHits(m collection.Metric, hits []domain.ScoredRecord) {
	slices.SortStableFunc(hits, func(a, b domain.ScoredRecord) int {
		if m == collection.Euclidean {
			return cmpFloat(a.Score, b.Score)
		}
		return cmpFloat(b.Score, a.Score)
	})
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// score returns dot product similarity or euclidean distance.
func score(m collection.Metric, q, v []float32) float64 {
	if len(q) != len(v) {
		return math.NaN()
	}
	var acc float64
	for i := range q {
		if m == collection.Euclidean {
			d := float64(q[i]) - float64(v[i])
			acc += d * d
			continue
		}
		acc += float64(q[i]) * float64(v[i])
	}
	if m == collection.Euclidean {
		return math.Sqrt(acc)
	}
	return acc
}

func decodePayload(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return m, nil
}

func encodeVector(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) []float32 {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
