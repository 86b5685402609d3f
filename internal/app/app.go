// Package app wires configuration into a running idvault server.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/inspire-id/idvault/internal/api"
	"github.com/inspire-id/idvault/internal/cache"
	"github.com/inspire-id/idvault/internal/config"
	"github.com/inspire-id/idvault/internal/cron"
	"github.com/inspire-id/idvault/internal/crypto"
	"github.com/inspire-id/idvault/internal/extraction"
	"github.com/inspire-id/idvault/internal/llm"
	"github.com/inspire-id/idvault/internal/metrics"
	"github.com/inspire-id/idvault/internal/resilience"
	"github.com/inspire-id/idvault/internal/store"
	"github.com/inspire-id/idvault/internal/vault"

	"go.uber.org/zap"
)

const cacheGCJob = "cache-gc"

type App struct {
	Config     *config.Config
	Store      *store.Store
	Logger     *zap.Logger
	Cipher     *crypto.Cipher
	Metrics    *metrics.Metrics
	Cache      *cache.Cache
	Extractor  extraction.Extractor
	Vault      *vault.Service
	Server     *api.Server
	CronRunner *cron.Runner
	Version    string
}

// New builds every component from cfg. Call Close when done.
func New(cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger, Version: version}

	cipher, err := crypto.NewCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		return nil, err
	}
	app.Cipher = cipher

	st, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	app.Store = st
	app.Metrics = metrics.New()

	extractor, err := app.buildExtractor()
	if err != nil {
		app.Close()
		return nil, err
	}

	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTL, logger.Named("cache"))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open extraction cache: %w", err)
		}
		app.Cache = c
		extractor = extraction.NewCachedExtractor(extractor, c, cipher, app.Metrics, logger.Named("cache"))
	}
	app.Extractor = extractor

	app.Vault = vault.New(st, cipher, extractor, app.Metrics, logger.Named("vault"))
	app.Server = api.New(cfg, app.Vault, st, app.Metrics, logger.Named("api"))

	app.CronRunner = cron.NewRunner(cron.Config{}, logger.Named("cron"))
	if app.Cache != nil {
		if err := app.CronRunner.AddJob(cacheGCJob, cfg.Cache.GCSchedule, func(ctx context.Context) error {
			return app.Cache.RunGC()
		}); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) guard(name string) *resilience.Guard {
	ec := app.Config.Extraction
	return resilience.New(resilience.Config{
		Name:              name,
		Timeout:           ec.Timeout,
		RequestsPerMinute: ec.RequestsPerMinute,
		MaxFailures:       ec.BreakerFailures,
		Cooldown:          ec.BreakerCooldown,
	}, app.Logger.Named("guard"))
}

// buildExtractor assembles the tier cascade for the configured backend.
func (app *App) buildExtractor() (extraction.Extractor, error) {
	cfg := app.Config

	pm := llm.NewProviderManagerFromConfig(cfg, app.Logger.Named("llm"))
	var completer llm.Completer
	if pm.Len() > 0 {
		completer = pm
	}
	parser, err := llm.NewParser(completer, app.guard("llm"), app.Logger.Named("parser"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document parser: %w", err)
	}
	vision := extraction.NewVisionBackend(parser, extraction.DefaultPrompts(), app.Logger.Named("vision"))

	opts := []extraction.OrchestratorOption{extraction.WithMetrics(app.Metrics)}
	if cfg.Extraction.MaxImageDimension > 0 {
		opts = append(opts, extraction.WithMaxImageDimension(cfg.Extraction.MaxImageDimension))
	}

	var backend extraction.Backend
	switch cfg.Extraction.Backend {
	case config.BackendVision:
		backend = vision
	default:
		if !cfg.DocumentAI.Configured() {
			app.Logger.Warn("Document AI processor not configured; uploads will be rejected")
		}
		backend = extraction.NewDocumentAIBackend(cfg.DocumentAI, app.guard("document_ai"), app.Logger.Named("document_ai"))
		if completer != nil {
			opts = append(opts, extraction.WithTextReader(vision))
		}
	}

	app.Logger.Info("Extraction pipeline ready",
		zap.String("backend", backend.Name()),
		zap.Int("llm_providers", pm.Len()),
	)
	return extraction.NewOrchestrator(backend, app.Logger.Named("extraction"), opts...), nil
}

// RunServer serves until SIGINT or SIGTERM.
func (app *App) RunServer() {
	if err := app.CronRunner.Start(); err != nil {
		app.Logger.Error("Failed to start cron runner", zap.Error(err))
	}

	go func() {
		if err := app.Server.Start(); err != nil {
			app.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.Logger.Info("Server started",
		zap.String("version", app.Version),
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("backend", app.Config.Extraction.Backend),
		zap.Bool("cache", app.Cache != nil),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")

	app.CronRunner.Stop()
	if err := app.Server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
	app.Close()
}

// Close releases the cache and the database.
func (app *App) Close() {
	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			app.Logger.Warn("Failed to close cache", zap.Error(err))
		}
		app.Cache = nil
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Failed to close store", zap.Error(err))
		}
		app.Store = nil
	}
}
