// Package collection persists collection configs as Redis hashes so admin
// registrations survive restarts and reach every instance.
package collection

import (
	"context"
	"fmt"
	"sort"

	"github.com/kailas-cloud/vecgate/internal/domain"
	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
)

// store is the consumer interface for collections (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo stores collection configs under vecgate:collection:{name}.
type Repo struct {
	store store
}

// New creates a collection repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Save writes cfg, replacing any stored revision.
func (r *Repo) Save(ctx context.Context, cfg domcol.Config) error {
	data, err := configToHash(cfg)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, metaKey(cfg.Name()), data); err != nil {
		return fmt.Errorf("hset collection %s: %w", cfg.Name(), err)
	}
	return nil
}

// Get retrieves a collection by name.
func (r *Repo) Get(ctx context.Context, name string) (domcol.Config, error) {
	m, err := r.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return domcol.Config{}, fmt.Errorf("hgetall collection %s: %w", name, err)
	}
	if len(m) == 0 {
		return domcol.Config{}, fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
	}
	return configFromHash(m)
}

// List returns all stored collections sorted by name.
func (r *Repo) List(ctx context.Context) ([]domcol.Config, error) {
	keys, err := r.store.Scan(ctx, metaKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan collections: %w", err)
	}
	if len(keys) == 0 {
		return []domcol.Config{}, nil
	}

	results, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi collections: %w", err)
	}

	cfgs := make([]domcol.Config, 0, len(results))
	for i, m := range results {
		if len(m) == 0 {
			continue
		}
		cfg, err := configFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse collection %s: %w", keys[i], err)
		}
		cfgs = append(cfgs, cfg)
	}

	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Name() < cfgs[j].Name() })
	return cfgs, nil
}

// Delete removes a stored collection.
func (r *Repo) Delete(ctx context.Context, name string) error {
	key := metaKey(name)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
	}
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del collection %s: %w", name, err)
	}
	return nil
}

func metaKey(name string) string {
	return fmt.Sprintf("%scollection:%s", domain.KeyPrefix, name)
}
