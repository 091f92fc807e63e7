// Package qdrant implements the vector store connector over Qdrant's native gRPC API.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

var tracer = otel.Tracer("vecgate.vectorstore.qdrant")

// pointIDNamespace seeds the UUIDv5 point ids derived from record ids.
var pointIDNamespace = uuid.MustParse("6f1c0f5e-3b0a-5c2e-9a55-7d7f1c9b2e40")

const writeBatchSize = 200

var _ vectorstore.Store = (*Store)(nil)

// client is the subset of *qdrant.Client the store needs.
type client interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds connection parameters.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Identity names the backend for resilience and metrics. Defaults to "qdrant".
	Identity string
}

// Store talks to Qdrant. Record ids are mapped to deterministic UUIDv5 point ids;
// the original id travels in the payload under vectorstore.PayloadIDKey.
type Store struct {
	client   client
	identity string
	logger   *zap.Logger
}

// New dials Qdrant.
func New(cfg Config, logger *zap.Logger, opts ...grpc.DialOption) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return newStore(c, cfg.Identity, logger), nil
}

func newStore(c client, identity string, logger *zap.Logger) *Store {
	if identity == "" {
		identity = vectorstore.DriverQdrant
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: c, identity: identity, logger: logger}
}

// Identity returns the backend identity.
func (s *Store) Identity() string { return s.identity }

// WriteBatchSize returns the preferred Upsert chunk size.
func (s *Store) WriteBatchSize() int { return writeBatchSize }

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.client.Close() }

// Ping runs Qdrant's health check.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return vectorstore.Classify("qdrant health", err)
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes when missing.
func (s *Store) EnsureCollection(ctx context.Context, cfg collection.Config) error {
	ctx, span := tracer.Start(ctx, "qdrant.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()))

	exists, err := s.client.CollectionExists(ctx, cfg.Name())
	if err != nil {
		span.RecordError(err)
		return vectorstore.Classify("collection exists", err)
	}
	if exists {
		return nil
	}

	req := &qdrant.CreateCollection{
		CollectionName: cfg.Name(),
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(cfg.Dimension()),
			Distance: distance(cfg.Metric()),
		}),
	}
	if h := cfg.Hints(); h.M > 0 || h.EfConstruction > 0 {
		hnsw := &qdrant.HnswConfigDiff{}
		if h.M > 0 {
			hnsw.M = qdrant.PtrOf(uint64(h.M))
		}
		if h.EfConstruction > 0 {
			hnsw.EfConstruct = qdrant.PtrOf(uint64(h.EfConstruction))
		}
		req.HnswConfig = hnsw
	}
	if err := s.client.CreateCollection(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vectorstore.Classify("create collection", err)
	}

	for _, f := range cfg.Fields() {
		ft := qdrant.FieldType_FieldTypeKeyword
		if f.FieldType() == field.Numeric {
			ft = qdrant.FieldType_FieldTypeFloat
		}
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: cfg.Name(),
			FieldName:      f.Name(),
			FieldType:      &ft,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return vectorstore.Classify("create field index "+f.Name(), err)
		}
	}

	s.logger.Info("qdrant collection created",
		zap.String("collection", cfg.Name()),
		zap.Int("dimension", cfg.Dimension()),
		zap.String("metric", string(cfg.Metric())),
	)
	return nil
}

// Upsert writes records and waits for them to be applied.
func (s *Store) Upsert(ctx context.Context, cfg collection.Config, records []domain.Record) error {
	ctx, span := tracer.Start(ctx, "qdrant.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("records", len(records)))

	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload, err := toPayload(r)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      PointID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: cfg.Name(),
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vectorstore.Classify("upsert", err)
	}
	return nil
}

// Delete removes points by record id.
func (s *Store) Delete(ctx context.Context, cfg collection.Config, ids []string) error {
	ctx, span := tracer.Start(ctx, "qdrant.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("ids", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = PointID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: cfg.Name(),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pids},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vectorstore.Classify("delete", err)
	}
	return nil
}

// Search runs a nearest-neighbour query with an optional payload filter.
func (s *Store) Search(
	ctx context.Context, cfg collection.Config, vector []float32, limit int, f filter.Expression,
) ([]domain.ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", cfg.Name()), attribute.Int("limit", limit))

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: cfg.Name(),
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toFilter(f),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, vectorstore.Classify("search", err)
	}

	out := make([]domain.ScoredRecord, 0, len(points))
	for _, p := range points {
		out = append(out, toScored(p))
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// PointID maps a record id to its Qdrant point id.
func PointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointIDNamespace, []byte(id)).String())
}

func distance(m collection.Metric) qdrant.Distance {
	switch m {
	case collection.Dot:
		return qdrant.Distance_Dot
	case collection.Euclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}
