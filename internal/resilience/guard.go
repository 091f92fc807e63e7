package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/metrics"
	"github.com/kailas-cloud/vecgate/internal/registry"
)

// CallKind selects the timeout and retry policy of a guarded call.
type CallKind string

// Call kinds.
const (
	CallSearch CallKind = "search"
	CallUpsert CallKind = "upsert"
	CallDelete CallKind = "delete"
	CallEmbed  CallKind = "embed"
)

// Idempotent kinds are retried; writes never are.
func (k CallKind) Idempotent() bool { return k == CallSearch || k == CallEmbed }

func (k CallKind) timeout(t registry.Timeouts) time.Duration {
	switch k {
	case CallSearch:
		return t.Search
	case CallUpsert:
		return t.Upsert
	case CallDelete:
		return t.Delete
	default:
		return t.Embed
	}
}

// Guard applies timeout, bulkhead, circuit breaker and retry to calls against one backend.
type Guard struct {
	identity string
	breaker  *Breaker
	bulkhead *Bulkhead
	source   TunablesSource
	logger   *zap.Logger
}

// Identity returns the backend identity.
func (g *Guard) Identity() string { return g.identity }

// Breaker exposes the guard's breaker for health reporting.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Bulkhead exposes the guard's bulkhead for health reporting.
func (g *Guard) Bulkhead() *Bulkhead { return g.bulkhead }

// Do runs fn under the guard's policies. fn receives a context carrying the per-kind
// deadline and must abort its I/O when that context is done.
func (g *Guard) Do(ctx context.Context, kind CallKind, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Guard.Do")
	defer span.End()
	span.SetAttributes(attribute.String("backend", g.identity), attribute.String("kind", string(kind)))

	err := g.do(ctx, kind, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Guard) do(parent context.Context, kind CallKind, fn func(ctx context.Context) error) error {
	t := g.source.Tunables().Resilience

	ctx, cancel := context.WithTimeout(parent, kind.timeout(t.Timeouts))
	defer cancel()

	release, err := g.bulkhead.TryAcquire(t.BulkheadFor(g.identity))
	if err != nil {
		metrics.BackendRejectedTotal.WithLabelValues(g.identity, "bulkhead_full").Inc()
		return err
	}
	inFlight := metrics.BackendInFlight.WithLabelValues(g.identity)
	inFlight.Inc()
	defer func() {
		release()
		inFlight.Dec()
	}()

	adm, err := g.breaker.Allow()
	if err != nil {
		metrics.BackendRejectedTotal.WithLabelValues(g.identity, "circuit_open").Inc()
		return err
	}

	attempts := 1
	if kind.Idempotent() {
		attempts = t.Retry.Attempts
	}
	bo := NewBackoff(t.Retry)

	var last error
	n := 0
	for n < attempts {
		n++
		last = fn(ctx)
		if last == nil || !retryable(last) {
			break
		}
		if n == attempts {
			break
		}
		metrics.BackendRetriesTotal.WithLabelValues(g.identity).Inc()
		wait := bo.Next()
		g.logger.Debug("Retrying backend call",
			zap.String("backend", g.identity),
			zap.String("kind", string(kind)),
			zap.Int("attempt", n),
			zap.Duration("backoff", wait),
			zap.Error(last),
		)
		if err := sleep(ctx, wait); err != nil {
			break
		}
	}

	last = normalize(ctx, last)
	g.breaker.Done(adm, outcome(parent, last))

	if last == nil {
		return nil
	}
	if n > 1 {
		return &domain.AttemptsError{Attempts: n, Err: last}
	}
	return last
}

// retryable: only backend failures are retried. Caller errors, rejections and budget
// exhaustion would fail the same way again.
func retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindTimeout, domain.KindInternal:
		return true
	default:
		return false
	}
}

// normalize maps a context deadline hit to ErrTimeout so every protocol reports Timeout.
func normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

func outcome(parent context.Context, err error) Outcome {
	if err == nil {
		return Success
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return Ignored
	}
	switch domain.KindOf(err) {
	case domain.KindTimeout, domain.KindInternal:
		return Failure
	case domain.KindResourceExhausted, domain.KindCircuitOpen:
		return Ignored
	default:
		return Success
	}
}
