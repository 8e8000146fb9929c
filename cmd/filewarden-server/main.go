// Package main is the entry point for the Filewarden server: the storage
// governance engine's admin/ops surface plus its scheduled reconciler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	cachememory "github.com/filewarden/filewarden/internal/cache/memory"
	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/handler"
	"github.com/filewarden/filewarden/internal/lock"
	"github.com/filewarden/filewarden/internal/metrics"
	"github.com/filewarden/filewarden/internal/provider"
	"github.com/filewarden/filewarden/internal/repository"
	"github.com/filewarden/filewarden/internal/repository/postgres"
	"github.com/filewarden/filewarden/internal/repository/sqlite"
	"github.com/filewarden/filewarden/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := newLogger(cfg.Logging)

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting Filewarden server")

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}

// run wires and runs the server until a shutdown signal arrives.
func run(cfg *config.Config, configPath string, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// File registry
	var (
		files repository.FileRepository
		db    repository.DatabaseHealth
	)
	switch cfg.Database.Driver {
	case "sqlite":
		sdb, err := sqlite.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		if err := sdb.Migrate(ctx); err != nil {
			return err
		}
		files = sqlite.NewFileRepository(sdb)
		db = sdb
	default:
		pdb, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		if err := pdb.Migrate(ctx); err != nil {
			return err
		}
		files = postgres.NewFileRepository(pdb)
		db = pdb
	}
	defer db.Close()

	// Provider adapters
	providers, err := provider.NewRegistry(ctx, cfg.Storage.Providers, logger)
	if err != nil {
		return err
	}

	// Reconciliation lock: Redis when available, in-memory otherwise.
	var locker lock.Locker
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client)
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("using redis reconciliation lock")
	} else {
		locker = lock.NewMemoryLocker()
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	// Rules holder: the hot-reloadable folder/quota view.
	rules := config.NewRulesHolder(cfg.Storage)
	config.Watch(configPath,
		func(updated *config.Config) {
			rules.Replace(updated.Storage)
			logger.Info().Msg("storage rules reloaded")
		},
		func(err error) {
			logger.Error().Err(err).Msg("config reload failed; keeping current rules")
		},
	)

	// Services
	fileCache := cachememory.NewFileCache(5 * time.Minute)
	defer fileCache.Stop()

	quota := service.NewQuotaManager(files, rules, logger)
	storage := service.NewStorageService(files, providers, rules, quota, collector, fileCache, logger)
	reconciler := service.NewReconciler(files, providers, locker, logger, service.ReconcilerOptions{
		Interval:          cfg.Reconciler.Interval,
		DryRun:            cfg.Reconciler.DryRun,
		PageTimeout:       cfg.Reconciler.PageTimeout,
		RegistryBatchSize: cfg.Reconciler.RegistryBatchSize,
	})

	if cfg.Reconciler.Enabled {
		reconciler.Start()
		defer reconciler.Stop()
	}

	// HTTP surface
	admin := handler.NewAdminHandler(handler.AdminConfig{
		Storage:    storage,
		Quota:      quota,
		Reconciler: reconciler,
		Collector:  collector,
		Database:   db,
		Logger:     logger,
	})

	routerCfg := handler.RouterConfig{Admin: admin, Logger: logger}
	if cfg.Metrics.Enabled {
		routerCfg.PromRegistry = promRegistry
		routerCfg.PromPath = cfg.Metrics.Path
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("operator API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newLogger builds the process logger from logging configuration.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger
}
