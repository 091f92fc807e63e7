package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/config"
	logpkg "github.com/kailas-cloud/vecgate/internal/logger"
	"github.com/kailas-cloud/vecgate/internal/telemetry"
	chiTransport "github.com/kailas-cloud/vecgate/internal/transport/chi"
	"github.com/kailas-cloud/vecgate/internal/transport/gql"
	"github.com/kailas-cloud/vecgate/internal/transport/grpcapi"
	"github.com/kailas-cloud/vecgate/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "vecgate",
		Usage:   "Vector search gateway",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name (local, dev, docker, test, prod); selects config/<env>.yaml",
				Value:   "local",
				Sources: cli.EnvVars("ENV"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the config file; overrides --env lookup",
				Sources: cli.EnvVars("VECGATE_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "http-port",
				Usage:   "HTTP port for REST and GraphQL; overrides http.port",
				Sources: cli.EnvVars("VECGATE_HTTP_PORT"),
			},
			&cli.IntFlag{
				Name:    "grpc-port",
				Usage:   "gRPC port; overrides grpc.port",
				Sources: cli.EnvVars("VECGATE_GRPC_PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error); overrides logging.level",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err.Error())
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	env := cmd.String("env")
	path := cmd.String("config")
	if path == "" {
		path = config.FindConfigPath(env)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if p := cmd.Int("http-port"); p > 0 {
		cfg.HTTP.Port = p
	}
	if p := cmd.Int("grpc-port"); p > 0 {
		cfg.GRPC.Port = p
	}
	level := cfg.Logging.Level
	if l := cmd.String("log-level"); l != "" {
		level = l
	}

	logger, err := logpkg.NewLogger(env, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vecgate",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("config", path),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("grpc_port", cfg.GRPC.Port),
		zap.String("vector_store", cfg.VectorStore.Driver),
		zap.Strings("models", cfg.ModelNames()),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
		ServiceName:    "vecgate",
		ServiceVersion: version.Version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// REST + GraphQL on one listener.
	router := chiTransport.NewRouter(app.rest, chiTransport.RouterConfig{APIKeys: cfg.Auth.APIKeys, Logger: logger})
	schema, err := gql.NewSchema(app.executor, app.collections, app.health)
	if err != nil {
		return fmt.Errorf("graphql schema: %w", err)
	}
	router.Handle("/graphql", gql.NewHandler(schema, logger))

	httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcStop func()
	if cfg.GRPC.Port > 0 {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", grpcAddr, err)
		}
		grpcSrv, hs := grpcapi.NewGRPCServer(
			grpcapi.NewServer(app.executor, app.embedding, logger),
			grpcapi.ServerConfig{APIKeys: cfg.Auth.APIKeys, Logger: logger},
		)
		grpcStop = grpcSrv.GracefulStop

		wg.Add(2)
		go func() {
			defer wg.Done()
			logger.Info("Starting gRPC server", zap.String("addr", grpcAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		go func() {
			defer wg.Done()
			grpcapi.SyncHealth(ctx, hs, app.health, time.Duration(cfg.GRPC.HealthIntervalSec)*time.Second)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.warmer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := config.Watch(ctx, path, app.Reload, logger); err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	if grpcStop != nil {
		grpcStop()
	}
	wg.Wait()

	logger.Info("Server stopped gracefully")
	return nil
}
