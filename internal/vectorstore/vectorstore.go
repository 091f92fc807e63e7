// Package vectorstore defines the connector contract for the backing vector
// store and the helpers its drivers share. Drivers live in subpackages:
// qdrant (gRPC), redis (FT index over hashes) and memory (chromem-go).
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

// Store is the uniform client every driver implements. Collection-scoped calls
// take the config snapshot the operation started with.
type Store interface {
	// Identity is the backend identity used for breakers, bulkheads and metrics.
	Identity() string
	EnsureCollection(ctx context.Context, cfg collection.Config) error
	Search(ctx context.Context, cfg collection.Config, vector []float32, limit int,
		f filter.Expression) ([]domain.ScoredRecord, error)
	Upsert(ctx context.Context, cfg collection.Config, records []domain.Record) error
	// Delete removes ids. Unknown ids are not an error.
	Delete(ctx context.Context, cfg collection.Config, ids []string) error
	// WriteBatchSize is the largest record count one Upsert should carry.
	WriteBatchSize() int
	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by config.
const (
	DriverQdrant = "qdrant"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// PayloadIDKey holds the caller's record id in stores that use their own point ids.
const PayloadIDKey = "_id"

// Classify maps a driver error onto the canonical taxonomy: deadlines become
// ErrTimeout, gRPC NotFound becomes ErrNotFound, everything else is ErrInternal.
// Errors that already carry a kind are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrNotFound, st.Message())
		case codes.DeadlineExceeded:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrTimeout, st.Message())
		case codes.Canceled:
			return fmt.Errorf("%s: %w", op, context.Canceled)
		}
	}
	if domain.KindOf(err) != domain.KindInternal || errors.Is(err, domain.ErrInternal) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrInternal, err)
}
