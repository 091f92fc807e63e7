// Package grpcapi is the gRPC ingress: the vecgate.v1.VectorGateway service over a JSON
// codec, plus the standard grpc.health.v1 service.
package grpcapi

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecgate/internal/domain"
	dombatch "github.com/kailas-cloud/vecgate/internal/domain/batch"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
)

// Executor runs canonical operations.
type Executor interface {
	Execute(ctx context.Context, op operation.Operation) (operation.Result, error)
}

// Streamer embeds texts chunk by chunk.
type Streamer interface {
	Stream(ctx context.Context, model string, texts []string) (<-chan embedding.Chunk, error)
}

// Server implements VectorGatewayServer over the gateway.
type Server struct {
	gateway Executor
	embed   Streamer
	logger  *zap.Logger
}

var _ VectorGatewayServer = (*Server)(nil)

// NewServer creates the service implementation. embed may be nil when no model server is configured.
func NewServer(gateway Executor, embed Streamer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{gateway: gateway, embed: embed, logger: logger}
}

// Search runs a similarity search.
func (s *Server) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	opts := opOptions(ctx)
	if req.Text != "" {
		mode, err := domain.ParseEmbedMode(req.EmbedMode)
		if err != nil {
			return nil, toStatus(err)
		}
		opts = append(opts, operation.WithText(req.Text, mode))
	}
	expr, err := req.Filter.Build()
	if err != nil {
		return nil, toStatus(domain.InvalidArgumentf("filter: %v", err))
	}
	opts = append(opts, operation.WithFilter(expr))

	res, err := s.gateway.Execute(ctx, operation.NewSearch(req.Collection, req.Vector, req.Limit, opts...))
	if err != nil {
		return nil, toStatus(err)
	}
	hits := res.Hits
	if hits == nil {
		hits = []domain.ScoredRecord{}
	}
	return &SearchResponse{Hits: hits, Cache: res.CacheLevel}, nil
}

// Upsert writes records; any failure fails the whole call.
func (s *Server) Upsert(ctx context.Context, req *UpsertRequest) (*WriteResponse, error) {
	res, err := s.gateway.Execute(ctx, operation.NewUpsert(req.Collection, req.Records, opOptions(ctx)...))
	if err != nil {
		return nil, toStatus(err)
	}
	return &WriteResponse{Affected: res.Affected}, nil
}

// Delete removes ids. Unknown ids are acknowledged.
func (s *Server) Delete(ctx context.Context, req *DeleteRequest) (*WriteResponse, error) {
	res, err := s.gateway.Execute(ctx, operation.NewDelete(req.Collection, req.IDs, opOptions(ctx)...))
	if err != nil {
		return nil, toStatus(err)
	}
	return &WriteResponse{Affected: res.Affected}, nil
}

// BatchUpsert writes records in chunks and reports per-item status.
func (s *Server) BatchUpsert(ctx context.Context, req *UpsertRequest) (*BatchUpsertResponse, error) {
	res, err := s.gateway.Execute(ctx, operation.NewBatch(req.Collection, req.Records, opOptions(ctx)...))
	if err != nil {
		return nil, toStatus(err)
	}
	out := &BatchUpsertResponse{Items: make([]ItemStatus, len(res.Items))}
	for i, it := range res.Items {
		out.Items[i] = ItemStatus{ID: it.ID(), Index: i, Status: string(it.Status())}
		if it.Err() != nil {
			out.Items[i].Code = string(it.Kind())
			out.Items[i].Message = safeMessage(it.Err())
			out.Failed++
			continue
		}
		out.Succeeded++
	}
	return out, nil
}

// StreamEmbed sends one message per completed chunk. A client cancel ends the
// stream context, which aborts the in-flight model server call.
func (s *Server) StreamEmbed(req *EmbedRequest, stream EmbedStream) error {
	if s.embed == nil {
		return toStatus(domain.InvalidArgumentf("no model servers configured"))
	}
	ctx := stream.Context()
	chunks, err := s.embed.Stream(ctx, req.Model, req.Texts)
	if err != nil {
		return toStatus(err)
	}
	for c := range chunks {
		if c.Err != nil {
			return toStatus(c.Err)
		}
		msg := &EmbedChunk{Offset: c.Offset, TotalTokens: c.TotalTokens, Items: make([]ItemStatus, len(c.Items))}
		for i, it := range c.Items {
			msg.Items[i] = ItemStatus{Index: it.Index, Status: string(dombatch.StatusOK), Vector: it.Vector}
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return toStatus(err)
	}
	return nil
}

func opOptions(ctx context.Context) []operation.Option {
	return []operation.Option{
		operation.WithProtocol(operation.GRPC),
		operation.WithRequestID(RequestIDFromContext(ctx)),
	}
}

// codeTable lists sentinels from most to least specific.
var codeTable = []struct {
	sentinel error
	code     codes.Code
}{
	{domain.ErrInvalidDimension, codes.InvalidArgument},
	{domain.ErrInvalidArgument, codes.InvalidArgument},
	{domain.ErrNotFound, codes.NotFound},
	{domain.ErrCircuitOpen, codes.Unavailable},
	{domain.ErrResourceExhausted, codes.ResourceExhausted},
	{domain.ErrTimeout, codes.DeadlineExceeded},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// toStatus maps a domain error to a gRPC status. The kind also travels in the message prefix.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	for _, e := range codeTable {
		if errors.Is(err, e.sentinel) {
			code = e.code
			break
		}
	}
	return status.Error(code, string(domain.KindOf(err))+": "+safeMessage(err))
}

func safeMessage(err error) string {
	if domain.IsClientError(err) {
		return err.Error()
	}
	switch domain.KindOf(err) {
	case domain.KindTimeout:
		return domain.ErrTimeout.Error()
	case domain.KindCircuitOpen:
		return domain.ErrCircuitOpen.Error()
	case domain.KindResourceExhausted:
		return domain.ErrResourceExhausted.Error()
	default:
		return domain.ErrInternal.Error()
	}
}
