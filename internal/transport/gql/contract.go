package gql

import (
	"context"

	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
)

// Executor runs canonical operations.
type Executor interface {
	Execute(ctx context.Context, op operation.Operation) (operation.Result, error)
}

// CollectionLister lists installed collections.
type CollectionLister interface {
	List(ctx context.Context) []domcol.Config
}

// HealthChecker aggregates backend health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
