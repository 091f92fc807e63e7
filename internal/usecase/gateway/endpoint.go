package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/logger"
	"github.com/kailas-cloud/vecgate/internal/metrics"
)

var tracer = otel.Tracer("github.com/kailas-cloud/vecgate/internal/usecase/gateway")

var errRequestType = errors.New("gateway: request is not an operation.Operation")

// Executor is the single entry point every protocol adapter calls.
type Executor interface {
	Execute(ctx context.Context, op operation.Operation) (operation.Result, error)
}

// MakeExecuteEndpoint adapts svc to a go-kit endpoint taking an operation.Operation.
func MakeExecuteEndpoint(svc Executor) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		op, ok := request.(operation.Operation)
		if !ok {
			return nil, fmt.Errorf("%w: %T", errRequestType, request)
		}
		return svc.Execute(ctx, op)
	}
}

// LoggingMiddleware writes one log line per operation. The request logger from
// the context is preferred so lines carry the ingress fields.
func LoggingMiddleware(base *zap.Logger) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			op, ok := request.(operation.Operation)
			if !ok {
				return next(ctx, request)
			}
			log := logger.FromContextOr(ctx, base)

			start := time.Now()
			resp, err := next(ctx, request)

			fields := []zap.Field{
				zap.String("request_id", op.RequestID()),
				zap.String("protocol", string(op.Protocol())),
				zap.String("kind", string(op.Kind())),
				zap.String("collection", op.Collection()),
				zap.String("status", status(err)),
				zap.Duration("latency", time.Since(start)),
			}
			if res, ok := resp.(operation.Result); ok && res.CacheLevel != "" {
				fields = append(fields, zap.String("cache", res.CacheLevel))
			}
			switch {
			case err == nil:
				log.Info("operation", fields...)
			case domain.IsClientError(err):
				log.Info("operation rejected", append(fields, zap.Error(err))...)
			default:
				log.Error("operation failed", append(fields, zap.Error(err))...)
			}
			return resp, err
		}
	}
}

// InstrumentingMiddleware records metrics.RequestsTotal and metrics.LatencySeconds.
func InstrumentingMiddleware() endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			op, ok := request.(operation.Operation)
			if !ok {
				return next(ctx, request)
			}
			start := time.Now()
			resp, err := next(ctx, request)

			p, k, c := string(op.Protocol()), string(op.Kind()), op.Collection()
			metrics.RequestsTotal.WithLabelValues(p, k, c, status(err)).Inc()
			metrics.LatencySeconds.WithLabelValues(p, k, c).Observe(time.Since(start).Seconds())
			return resp, err
		}
	}
}

// TracingMiddleware wraps every operation in a span.
func TracingMiddleware() endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			op, ok := request.(operation.Operation)
			if !ok {
				return next(ctx, request)
			}
			ctx, span := tracer.Start(ctx, "Gateway.Execute")
			defer span.End()
			span.SetAttributes(
				attribute.String("request_id", op.RequestID()),
				attribute.String("protocol", string(op.Protocol())),
				attribute.String("kind", string(op.Kind())),
				attribute.String("collection", op.Collection()),
			)

			resp, err := next(ctx, request)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return resp, err
		}
	}
}

// status is the metric and log label of an outcome: "ok" or the error kind.
func status(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}

// Gateway is the instrumented Execute endpoint.
type Gateway struct {
	ep endpoint.Endpoint
}

// NewGateway chains tracing, logging and instrumenting around svc.
func NewGateway(svc Executor, log *zap.Logger) *Gateway {
	ep := endpoint.Chain(
		TracingMiddleware(),
		LoggingMiddleware(log),
		InstrumentingMiddleware(),
	)(MakeExecuteEndpoint(svc))
	return &Gateway{ep: ep}
}

// Execute runs op through the endpoint chain.
func (g *Gateway) Execute(ctx context.Context, op operation.Operation) (operation.Result, error) {
	resp, err := g.ep(ctx, op)
	if err != nil {
		return operation.Result{}, err
	}
	res, ok := resp.(operation.Result)
	if !ok {
		return operation.Result{}, fmt.Errorf("%w: unexpected response %T", domain.ErrInternal, resp)
	}
	return res, nil
}
