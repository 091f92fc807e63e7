package grpcapi

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecgate/internal/logger"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
)

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by the request interceptors.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ServerConfig configures NewGRPCServer.
type ServerConfig struct {
	// APIKeys enables Bearer authentication when non-empty. Health checks stay open.
	APIKeys []string
	Logger  *zap.Logger
}

// NewGRPCServer builds a grpc.Server serving the gateway and grpc.health.v1.
// The returned health server reports SERVING until told otherwise.
func NewGRPCServer(srv VectorGatewayServer, cfg ServerConfig, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	keys := apiKeys(cfg.APIKeys)

	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			unaryRecover(log),
			unaryRequestContext(log),
			unaryAuth(keys),
		),
		grpc.ChainStreamInterceptor(
			streamRecover(log),
			streamRequestContext(log),
			streamAuth(keys),
		),
	)
	s := grpc.NewServer(opts...)
	RegisterVectorGatewayServer(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// Checker reports aggregated backend health.
type Checker interface {
	Check(ctx context.Context) healthuc.Report
}

// SyncHealth mirrors the aggregated health into hs every interval until ctx is done.
// Only an unreachable vector store flips the service to NOT_SERVING.
func SyncHealth(ctx context.Context, hs *health.Server, checker Checker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st := healthpb.HealthCheckResponse_SERVING
		if checker.Check(ctx).Status == healthuc.Unhealthy {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ServiceName, st)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func withRequest(ctx context.Context, base *zap.Logger, method string) (context.Context, string) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-request-id"); len(v) > 0 {
			id = v[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs("x-request-id", id))
	reqLogger := base.With(zap.String("request_id", id), zap.String("method", method))
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	return logger.ContextWithLogger(ctx, reqLogger), id
}

func unaryRequestContext(base *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx, _ = withRequest(ctx, base, info.FullMethod)
		resp, err := handler(ctx, req)
		logger.FromContext(ctx).Info("grpc_request",
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func streamRequestContext(base *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ctx, _ := withRequest(ss.Context(), base, info.FullMethod)
		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
		logger.FromContext(ctx).Info("grpc_stream",
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}

func unaryRecover(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rvr := recover(); rvr != nil {
				log.Error("panic recovered", zap.Any("panic", rvr), zap.String("method", info.FullMethod), zap.Stack("stacktrace"))
				err = status.Error(codes.Internal, "INTERNAL: internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func streamRecover(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if rvr := recover(); rvr != nil {
				log.Error("panic recovered", zap.Any("panic", rvr), zap.String("method", info.FullMethod), zap.Stack("stacktrace"))
				err = status.Error(codes.Internal, "INTERNAL: internal error")
			}
		}()
		return handler(srv, ss)
	}
}

func apiKeys(in []string) [][]byte {
	keys := make([][]byte, 0, len(in))
	for _, k := range in {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

func authorize(ctx context.Context, keys [][]byte, method string) error {
	if len(keys) == 0 || strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token, ok := strings.CutPrefix(vals[0], "Bearer ")
	if !ok {
		return status.Error(codes.Unauthenticated, "authorization must use Bearer scheme")
	}
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	if found != 1 {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

func unaryAuth(keys [][]byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := authorize(ctx, keys, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func streamAuth(keys [][]byte) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := authorize(ss.Context(), keys, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
