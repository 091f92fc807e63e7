// Package registry holds per-collection configuration and runtime tunables
// in one immutable snapshot behind an atomic pointer. Readers never lock;
// writers build a new snapshot and install it with compare-and-swap.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
)

type snapshot struct {
	collections map[string]collection.Config
	tunables    Tunables
	version     uint64
}

// Registry is safe for concurrent use.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// New creates a registry with the given tunables and no collections.
func New(t Tunables) (*Registry, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tunables: %w", err)
	}
	r := &Registry{}
	r.current.Store(&snapshot{collections: map[string]collection.Config{}, tunables: t.clone(), version: 1})
	return r, nil
}

// Get returns the collection config or ErrNotFound.
func (r *Registry) Get(name string) (collection.Config, error) {
	cfg, ok := r.current.Load().collections[name]
	if !ok {
		return collection.Config{}, fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
	}
	return cfg, nil
}

// List returns all collections sorted by name.
func (r *Registry) List() []collection.Config {
	snap := r.current.Load()
	out := make([]collection.Config, 0, len(snap.collections))
	for _, cfg := range snap.collections {
		out = append(out, cfg)
	}
	slices.SortFunc(out, func(a, b collection.Config) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Tunables returns the current runtime knobs.
func (r *Registry) Tunables() Tunables {
	return r.current.Load().tunables
}

// Version increases on every installed snapshot.
func (r *Registry) Version() uint64 {
	return r.current.Load().version
}

// Register installs a new collection. An existing name is rejected.
func (r *Registry) Register(cfg collection.Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	return r.swap(func(s *snapshot) error {
		if _, ok := s.collections[cfg.Name()]; ok {
			return domain.InvalidArgumentf("collection %q already registered", cfg.Name())
		}
		s.collections[cfg.Name()] = cfg
		return nil
	})
}

// Update replaces an existing collection with cfg as its next revision.
func (r *Registry) Update(cfg collection.Config) (collection.Config, error) {
	if err := validate(cfg); err != nil {
		return collection.Config{}, err
	}
	var installed collection.Config
	err := r.swap(func(s *snapshot) error {
		old, ok := s.collections[cfg.Name()]
		if !ok {
			return fmt.Errorf("collection %q: %w", cfg.Name(), domain.ErrNotFound)
		}
		installed = old.Successor(cfg)
		s.collections[cfg.Name()] = installed
		return nil
	})
	return installed, err
}

// Put registers cfg or updates the existing collection of the same name.
func (r *Registry) Put(cfg collection.Config) (collection.Config, bool, error) {
	if err := validate(cfg); err != nil {
		return collection.Config{}, false, err
	}
	var (
		installed collection.Config
		created   bool
	)
	err := r.swap(func(s *snapshot) error {
		installed, created = cfg, true
		if old, ok := s.collections[cfg.Name()]; ok {
			installed, created = old.Successor(cfg), false
		}
		s.collections[cfg.Name()] = installed
		return nil
	})
	return installed, created, err
}

// Restore installs configs loaded from storage as-is, keeping their revisions.
func (r *Registry) Restore(cfgs ...collection.Config) error {
	for _, cfg := range cfgs {
		if err := validate(cfg); err != nil {
			return err
		}
	}
	return r.swap(func(s *snapshot) error {
		for _, cfg := range cfgs {
			if cur, ok := s.collections[cfg.Name()]; ok && cur.Revision() > cfg.Revision() {
				continue
			}
			s.collections[cfg.Name()] = cfg
		}
		return nil
	})
}

// Remove drops a collection. Operations that already read the config keep their copy.
func (r *Registry) Remove(name string) error {
	return r.swap(func(s *snapshot) error {
		if _, ok := s.collections[name]; !ok {
			return fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
		}
		delete(s.collections, name)
		return nil
	})
}

// SetTunables validates and installs new runtime knobs.
func (r *Registry) SetTunables(t Tunables) error {
	if err := t.Validate(); err != nil {
		return domain.InvalidArgumentf("tunables: %v", err)
	}
	return r.swap(func(s *snapshot) error {
		s.tunables = t.clone()
		return nil
	})
}

// swap applies mutate to a copy of the current snapshot and installs it,
// retrying when a concurrent writer won the race.
func (r *Registry) swap(mutate func(*snapshot) error) error {
	for {
		old := r.current.Load()
		next := &snapshot{
			collections: maps.Clone(old.collections),
			tunables:    old.tunables,
			version:     old.version + 1,
		}
		if err := mutate(next); err != nil {
			return err
		}
		if r.current.CompareAndSwap(old, next) {
			return nil
		}
	}
}

func validate(cfg collection.Config) error {
	if cfg.Name() == "" {
		return domain.InvalidArgumentf("collection name is required")
	}
	if cfg.Dimension() <= 0 {
		return domain.InvalidArgumentf("collection %q: dimension must be > 0", cfg.Name())
	}
	if !cfg.Metric().IsValid() {
		return domain.InvalidArgumentf("collection %q: unsupported metric %q", cfg.Name(), cfg.Metric())
	}
	return nil
}
