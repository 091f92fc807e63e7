package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/bus"
	"github.com/kailas-cloud/vecgate/internal/cache"
	"github.com/kailas-cloud/vecgate/internal/config"
	dbRedis "github.com/kailas-cloud/vecgate/internal/db/redis"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/metrics"
	"github.com/kailas-cloud/vecgate/internal/registry"
	budgetrepo "github.com/kailas-cloud/vecgate/internal/repository/budget"
	collectionrepo "github.com/kailas-cloud/vecgate/internal/repository/collection"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	chiTransport "github.com/kailas-cloud/vecgate/internal/transport/chi"
	"github.com/kailas-cloud/vecgate/internal/transport/modelhttp"
	openaiEmb "github.com/kailas-cloud/vecgate/internal/transport/openai"
	collectionuc "github.com/kailas-cloud/vecgate/internal/usecase/collection"
	embeddinguc "github.com/kailas-cloud/vecgate/internal/usecase/embedding"
	"github.com/kailas-cloud/vecgate/internal/usecase/gateway"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
	usageuc "github.com/kailas-cloud/vecgate/internal/usecase/usage"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
	"github.com/kailas-cloud/vecgate/internal/vectorstore/memory"
	"github.com/kailas-cloud/vecgate/internal/vectorstore/qdrant"
	redisvs "github.com/kailas-cloud/vecgate/internal/vectorstore/redis"
)

const (
	budgetDailyTTL   = 48 * time.Hour
	budgetMonthlyTTL = 62 * 24 * time.Hour
)

// application is the composition root: every long-lived component, built once.
type application struct {
	registry    *registry.Registry
	store       vectorstore.Store
	redis       *dbRedis.Store
	bus         *bus.Bus
	engine      *cache.Engine
	warmer      *cache.Warmer
	embedding   *embeddinguc.Service
	collections *collectionuc.Service
	health      *healthuc.Service
	executor    *gateway.Gateway
	rest        *chiTransport.Server
	logger      *zap.Logger
}

// warmFunc late-binds the gateway into the warmer; each needs the other.
type warmFunc func(ctx context.Context, op operation.Operation) error

func (f warmFunc) Warm(ctx context.Context, op operation.Operation) error { return f(ctx, op) }

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	// Register metrics explicitly (no init())
	metrics.RegisterGatewayMetrics()
	metrics.RegisterCacheMetrics()
	metrics.RegisterResilienceMetrics()
	metrics.RegisterEmbeddingMetrics()

	app := &application{logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	reg, err := registry.New(cfg.Tunables())
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	app.registry = reg
	guards := resilience.NewManager(reg, logger)

	if cfg.Redis.Enabled() {
		app.redis, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		if err := app.redis.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))
	}

	app.store, err = newVectorStore(cfg, app.redis, logger)
	if err != nil {
		return nil, err
	}

	if cfg.NATS.URL != "" {
		app.bus, err = bus.Connect(bus.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix, Logger: logger})
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL), zap.String("instance", app.bus.Instance()))
	}

	var engineOpts []cache.Option
	if app.redis != nil {
		engineOpts = append(engineOpts, cache.WithL2(cache.NewL2(app.redis, nil)))
		logger.Info("L2 cache budget is enforced by the server's maxmemory policy",
			zap.Int64("budget_bytes", reg.Tunables().Cache.L2BudgetBytes))
	}
	if app.bus != nil {
		engineOpts = append(engineOpts, cache.WithPublisher(app.bus))
	}
	app.engine = cache.NewEngine(reg, logger, engineOpts...)

	models, sources, err := newModels(ctx, cfg, app.redis, guards, logger)
	if err != nil {
		return nil, err
	}
	app.embedding = embeddinguc.NewService(models, logger)

	var gw *gateway.Service
	app.warmer = cache.NewWarmer(reg, warmFunc(func(ctx context.Context, op operation.Operation) error {
		return gw.Warm(ctx, op)
	}), logger)
	gw = gateway.New(reg, app.store, guards,
		gateway.WithCache(app.engine),
		gateway.WithEmbedder(app.embedding),
		gateway.WithTracker(app.warmer),
		gateway.WithLogger(logger),
	)
	app.engine.OnInvalidate(app.warmer.Reschedule)
	app.executor = gateway.NewGateway(gw, logger)

	collOpts := []collectionuc.Option{
		collectionuc.WithInvalidator(app.engine),
		collectionuc.WithLogger(logger),
	}
	if app.redis != nil {
		collOpts = append(collOpts, collectionuc.WithRepository(collectionrepo.New(app.redis)))
	}
	if app.bus != nil {
		collOpts = append(collOpts, collectionuc.WithAnnouncer(app.bus))
	}
	app.collections = collectionuc.New(reg, app.store, collOpts...)

	n, err := app.collections.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}
	logger.Info("Loaded persisted collections", zap.Int("count", n))
	app.applyCollections(ctx, cfg)

	if app.bus != nil {
		if err := app.bus.OnInvalidation(app.engine.ApplyPeerInvalidation); err != nil {
			return nil, err
		}
		if err := app.bus.OnCollection(func(ctx context.Context, name string) {
			if err := app.collections.Refresh(ctx, name); err != nil {
				logger.Warn("Collection refresh from peer failed", zap.String("collection", name), zap.Error(err))
			}
		}); err != nil {
			return nil, err
		}
	}

	checkers := make([]healthuc.ModelChecker, 0, len(models))
	for _, m := range models {
		checkers = append(checkers, m)
	}
	app.health = healthuc.New(app.store, checkers, guards)

	app.rest = chiTransport.NewServer(app.executor, app.collections, app.health, logger,
		chiTransport.WithEmbedder(app.embedding),
		chiTransport.WithUsage(usageuc.New(sources)),
		chiTransport.WithTunables(reg),
	)

	ok = true
	return app, nil
}

func newVectorStore(cfg config.Config, redis *dbRedis.Store, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.VectorStore.Driver {
	case vectorstore.DriverQdrant:
		q := cfg.VectorStore.Qdrant
		s, err := qdrant.New(qdrant.Config{Host: q.Host, Port: q.Port, APIKey: q.APIKey, UseTLS: q.UseTLS}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case vectorstore.DriverRedis:
		if redis == nil {
			return nil, errors.New("redis vector store needs a redis connection")
		}
		return redisvs.New(redis, "", logger, redisvs.WithHNSW(redisvs.HNSWDefaults{
			M:           cfg.VectorStore.HNSWM,
			EFConstruct: cfg.VectorStore.HNSWEFConstruct,
		})), nil
	case vectorstore.DriverMemory:
		return memory.New("", logger), nil
	default:
		return nil, fmt.Errorf("unknown vector store driver %q", cfg.VectorStore.Driver)
	}
}

// newModels builds one decorated model per configured model server, and the usage source for each.
func newModels(
	ctx context.Context, cfg config.Config, redis *dbRedis.Store,
	guards *resilience.Manager, logger *zap.Logger,
) ([]*embeddinguc.Model, []usageuc.Source, error) {
	names := cfg.ModelNames()
	models := make([]*embeddinguc.Model, 0, len(names))
	sources := make([]usageuc.Source, 0, len(names))

	for _, name := range names {
		mc := cfg.Models[name]
		server, err := newModelServer(name, mc, logger)
		if err != nil {
			return nil, nil, err
		}

		opts := []embeddinguc.ModelOption{
			embeddinguc.WithGuard(guards.Guard(server.Identity())),
			embeddinguc.WithQueryInstruction(mc.QueryInstruction),
			embeddinguc.WithModelLogger(logger),
		}

		// Pass nil interface (not typed nil pointer!) if budget is not configured.
		var reader usageuc.BudgetReader
		if b := mc.Budget; b.DailyTokenLimit > 0 || b.MonthlyTokenLimit > 0 {
			action := embeddinguc.BudgetActionWarn
			if b.Action == "reject" {
				action = embeddinguc.BudgetActionReject
			}
			tracker := embeddinguc.NewBudgetTracker(server.Identity(), b.DailyTokenLimit, b.MonthlyTokenLimit, action, logger)
			if redis != nil {
				tracker.WithStore(ctx, budgetrepo.New(redis, budgetDailyTTL, budgetMonthlyTTL))
			}
			opts = append(opts, embeddinguc.WithBudget(tracker))
			reader = tracker
		}

		if redis != nil {
			opts = append(opts, embeddinguc.WithEmbeddingCache(redis, time.Duration(mc.CacheTTLSec)*time.Second))
		}

		models = append(models, embeddinguc.NewModel(name, server, opts...))
		sources = append(sources, usageuc.Source{Model: name, Budget: reader})
		logger.Info("Model server configured",
			zap.String("model", name),
			zap.String("driver", mc.Driver),
			zap.String("identity", server.Identity()),
		)
	}
	return models, sources, nil
}

func newModelServer(name string, mc config.ModelConfig, logger *zap.Logger) (domain.ModelServer, error) {
	switch mc.Driver {
	case config.ModelDriverHTTP:
		c, err := modelhttp.New(modelhttp.Config{
			URL:       mc.URL,
			HealthURL: mc.HealthURL,
			Token:     mc.APIKey,
			Model:     mc.Model,
			Identity:  name,
			Timeout:   time.Duration(mc.TimeoutSec) * time.Second,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		return c, nil
	case config.ModelDriverOpenAI:
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     mc.APIKey,
			BaseURL:    mc.BaseURL,
			Model:      mc.Model,
			Dimensions: mc.Dimensions,
			Identity:   name,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("model %q: unknown driver %q", name, mc.Driver)
	}
}

// applyCollections registers the statically configured collections. A collection whose
// stored dimension or metric differs is left as is and logged.
func (a *application) applyCollections(ctx context.Context, cfg config.Config) {
	cfgs, err := cfg.CollectionConfigs()
	if err != nil {
		a.logger.Error("Invalid collections in config", zap.Error(err))
		return
	}
	for _, c := range cfgs {
		if _, created, err := a.collections.Put(ctx, c); err != nil {
			a.logger.Error("Register configured collection failed", zap.String("collection", c.Name()), zap.Error(err))
		} else if created {
			a.logger.Info("Registered collection", zap.String("collection", c.Name()), zap.Int("dimension", c.Dimension()))
		}
	}
}

// Reload installs the tunables and collections of a changed config file. Connection
// settings (addresses, drivers, ports, models) need a restart.
func (a *application) Reload(cfg config.Config) {
	if err := a.registry.SetTunables(cfg.Tunables()); err != nil {
		a.logger.Error("Tunables rejected", zap.Error(err))
		return
	}
	a.applyCollections(context.Background(), cfg)
}

// Close releases connections in reverse order of creation.
func (a *application) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("NATS close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Vector store close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
