// Package collection manages collection registrations: the registry snapshot,
// their persisted copies, the vector store side and peer announcements.
package collection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/metrics"
)

// Service handles collection registration.
type Service struct {
	reg    Registry
	repo   Repository
	store  Provisioner
	bus    Announcer
	cache  Invalidator
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRepository persists registrations so they survive restarts.
func WithRepository(r Repository) Option { return func(s *Service) { s.repo = r } }

// WithAnnouncer notifies peers of changes.
func WithAnnouncer(a Announcer) Option { return func(s *Service) { s.bus = a } }

// WithInvalidator drops cached results when a collection changes.
func WithInvalidator(i Invalidator) Option { return func(s *Service) { s.cache = i } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a collection service.
func New(reg Registry, store Provisioner, opts ...Option) *Service {
	s := &Service{reg: reg, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the installed config of name.
func (s *Service) Get(_ context.Context, name string) (domcol.Config, error) {
	return s.reg.Get(name)
}

// List returns every installed config sorted by name.
func (s *Service) List(_ context.Context) []domcol.Config {
	return s.reg.List()
}

// Put registers cfg or replaces the existing collection of the same name. Dimension
// and metric are fixed at creation because the stored vectors depend on them.
func (s *Service) Put(ctx context.Context, cfg domcol.Config) (domcol.Config, bool, error) {
	if old, err := s.reg.Get(cfg.Name()); err == nil {
		if old.Dimension() != cfg.Dimension() || old.Metric() != cfg.Metric() {
			return domcol.Config{}, false, domain.InvalidArgumentf(
				"collection %q: dimension and metric cannot change (have %d/%s)",
				cfg.Name(), old.Dimension(), old.Metric())
		}
	}

	if err := s.store.EnsureCollection(ctx, cfg); err != nil {
		return domcol.Config{}, false, fmt.Errorf("ensure collection %q: %w", cfg.Name(), err)
	}

	installed, created, err := s.reg.Put(cfg)
	if err != nil {
		return domcol.Config{}, false, err
	}
	s.observe()

	if s.repo != nil {
		if err := s.repo.Save(ctx, installed); err != nil {
			return installed, created, fmt.Errorf("%w: persist collection %q: %w", domain.ErrInternal, cfg.Name(), err)
		}
	}
	if !created {
		s.invalidate(ctx, cfg.Name())
	}
	s.announce(ctx, cfg.Name())

	s.logger.Info("Collection installed",
		zap.String("collection", installed.Name()),
		zap.Int("dimension", installed.Dimension()),
		zap.String("metric", string(installed.Metric())),
		zap.Int("revision", installed.Revision()),
		zap.Bool("created", created),
	)
	return installed, created, nil
}

// Delete unregisters name. Stored vectors are kept in the backend.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.reg.Remove(name); err != nil {
		return err
	}
	s.observe()
	if s.repo != nil {
		if err := s.repo.Delete(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: forget collection %q: %w", domain.ErrInternal, name, err)
		}
	}
	s.invalidate(ctx, name)
	s.announce(ctx, name)
	s.logger.Info("Collection removed", zap.String("collection", name))
	return nil
}

// Load installs every persisted registration and makes sure the store has it.
// A collection the store rejects is logged and still registered.
func (s *Service) Load(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	cfgs, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load collections: %w", err)
	}
	for _, cfg := range cfgs {
		if err := s.store.EnsureCollection(ctx, cfg); err != nil {
			s.logger.Warn("Failed to ensure collection",
				zap.String("collection", cfg.Name()), zap.Error(err))
		}
	}
	if err := s.reg.Restore(cfgs...); err != nil {
		return 0, fmt.Errorf("restore collections: %w", err)
	}
	s.observe()
	return len(cfgs), nil
}

// Refresh re-reads name from storage after a peer announced a change.
func (s *Service) Refresh(ctx context.Context, name string) error {
	if s.repo == nil {
		return nil
	}
	cfg, err := s.repo.Get(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := s.reg.Remove(name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	case err != nil:
		return fmt.Errorf("refresh collection %q: %w", name, err)
	default:
		if err := s.reg.Restore(cfg); err != nil {
			return err
		}
	}
	s.observe()
	s.logger.Debug("Collection refreshed from peer", zap.String("collection", name))
	return nil
}

func (s *Service) observe() {
	metrics.CollectionsRegistered.Set(float64(len(s.reg.List())))
}

// invalidate is best effort; Put and Delete have already taken effect.
func (s *Service) invalidate(ctx context.Context, name string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCollection(ctx, name); err != nil {
		s.logger.Warn("Failed to invalidate collection cache", zap.String("collection", name), zap.Error(err))
	}
}

func (s *Service) announce(ctx context.Context, name string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.AnnounceCollection(ctx, name); err != nil {
		s.logger.Warn("Failed to announce collection change", zap.String("collection", name), zap.Error(err))
	}
}
