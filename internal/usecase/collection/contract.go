package collection

import (
	"context"

	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
)

// Registry is the in-memory config snapshot (implemented by *registry.Registry).
type Registry interface {
	Get(name string) (domcol.Config, error)
	List() []domcol.Config
	Put(cfg domcol.Config) (domcol.Config, bool, error)
	Restore(cfgs ...domcol.Config) error
	Remove(name string) error
}

// Repository persists admin registrations.
type Repository interface {
	Save(ctx context.Context, cfg domcol.Config) error
	Get(ctx context.Context, name string) (domcol.Config, error)
	List(ctx context.Context) ([]domcol.Config, error)
	Delete(ctx context.Context, name string) error
}

// Provisioner creates collections in the vector store.
type Provisioner interface {
	EnsureCollection(ctx context.Context, cfg domcol.Config) error
}

// Announcer tells peer instances that a collection changed.
type Announcer interface {
	AnnounceCollection(ctx context.Context, name string) error
}

// Invalidator drops cached results of a collection.
type Invalidator interface {
	InvalidateCollection(ctx context.Context, collection string) error
}
