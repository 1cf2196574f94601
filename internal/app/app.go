// Package app wires configuration into a running engine: store, content
// store, pipeline, orchestrator, scheduler, reconciler and telemetry.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/batchmigrate/internal/cache"
	"github.com/timmy/batchmigrate/internal/config"
	"github.com/timmy/batchmigrate/internal/console"
	"github.com/timmy/batchmigrate/internal/ingest"
	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/orchestrator"
	"github.com/timmy/batchmigrate/internal/repository"
	"github.com/timmy/batchmigrate/internal/storage"
	"github.com/timmy/batchmigrate/internal/telemetry"
	"github.com/timmy/batchmigrate/internal/validator"
	"golang.org/x/sync/errgroup"
)

// signedURLMargin is how long before expiry a cached signed URL is dropped.
const signedURLMargin = 30 * time.Second

// App holds every long-lived component.
type App struct {
	Config       *config.Config
	Store        *repository.Store
	Blobs        storage.ObjectStorage
	Catalog      *validator.Catalog
	Pipeline     *ingest.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *orchestrator.Scheduler
	Reconciler   *ingest.Reconciler
	Importer     *ingest.Importer
	Reporter     *telemetry.Reporter
	Console      *console.Console

	cache cache.Cache
}

// New builds an App from cfg.
// Parameters:
//   - ctx: bounds connection checks made while starting up.
//   - cfg: loaded and validated configuration.
//
// Returns:
//   - *App: ready to serve; call Close when done.
//   - error: non-nil if a backing service cannot be reached.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store := repository.NewStore(db)

	objects, err := storage.NewStorage(ctx, &storage.Config{
		Type:         storage.StorageType(cfg.Storage.Type),
		Endpoint:     cfg.Storage.Endpoint,
		AccessKey:    cfg.Storage.AccessKey,
		SecretKey:    cfg.Storage.SecretKey,
		UseSSL:       cfg.Storage.UseSSL,
		Bucket:       cfg.Storage.Bucket,
		Region:       cfg.Storage.Region,
		EnsureBucket: cfg.Storage.EnsureBucket,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var urlCache cache.Cache = cache.NewMemoryCache()
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		urlCache = rc
	}
	blobs := storage.NewSignedURLCache(objects, urlCache, signedURLMargin)

	catalog, err := validator.NewCatalog(cfg.Schemas...)
	if err != nil {
		_ = store.Close()
		_ = urlCache.Close()
		return nil, fmt.Errorf("failed to build schema catalog: %w", err)
	}

	pipeline := ingest.NewPipeline(store, blobs, ingest.Options{
		Policy: ingest.Policy{
			MaxSizeBytes:              cfg.Admission.MaxSizeBytes,
			AllowedTypes:              cfg.Admission.AllowedTypes,
			RequireAuthenticatedOwner: cfg.Admission.RequireAuthenticatedOwner,
			UploadsPerMinute:          cfg.Admission.UploadsPerMinute,
		},
		SignedURLTTL: cfg.Storage.SignedURLTTL,
	})
	reconciler := ingest.NewReconciler(store, objects, ingest.ReconcilerConfig{
		MaxAttempts: cfg.Reconciler.MaxAttempts,
		BatchSize:   cfg.Reconciler.BatchSize,
	})

	progress := telemetry.NewProgress(cfg.Telemetry.WindowSamples, cfg.Telemetry.WindowDuration)
	oc := cfg.Orchestrator
	orch := orchestrator.New(store, pipeline, catalog, Transformer(oc), progress, orchestrator.Config{
		BatchSize:         oc.BatchSize,
		TickBudget:        oc.TickBudget,
		CommitTimeout:     oc.CommitTimeout,
		CommitAttempts:    oc.CommitAttempts,
		BackoffInitial:    oc.BackoffInitial,
		BackoffMax:        oc.BackoffMax,
		FailureThreshold:  oc.FailureThreshold,
		RequireWarningAck: oc.RequireWarningAck,
		ErrorDetailsCap:   oc.ErrorDetailsCap,
	})

	var source telemetry.Source
	switch cfg.Telemetry.Source {
	case "http":
		source = telemetry.NewHTTPSource(cfg.Telemetry.Endpoint, cfg.Telemetry.Cadence)
	default:
		source = telemetry.NewStaticSource(telemetry.Reading{})
	}
	reporter := telemetry.NewReporter(source, orch, progress, telemetry.ReporterConfig{
		MaxLatency: cfg.Telemetry.MaxLatency,
		Smoothing:  cfg.Telemetry.Smoothing,
	})

	logger.With(logger.Fields{
		"storage":   cfg.Storage.Type,
		"database":  cfg.Database.Driver,
		"redis":     cfg.Redis.Enabled,
		"telemetry": cfg.Telemetry.Source,
		"schemas":   len(catalog.Names()),
	}).Info(ctx, "Engine initialized")

	return &App{
		Config:       cfg,
		Store:        store,
		Blobs:        blobs,
		Catalog:      catalog,
		Pipeline:     pipeline,
		Orchestrator: orch,
		Scheduler:    orchestrator.NewScheduler(orch, oc.Workers, oc.TickInterval),
		Reconciler:   reconciler,
		Importer:     ingest.NewImporter(pipeline, store, cfg.Importer.Workers, cfg.Importer.BatchSize),
		Reporter:     reporter,
		Console:      console.New(pipeline, orch, reporter, catalog),
		cache:        urlCache,
	}, nil
}

// Transformer builds the per-record transform chain from configuration.
// With nothing configured records pass through unchanged.
func Transformer(cfg config.OrchestratorConfig) orchestrator.Transformer {
	var chain []orchestrator.Transformer
	if cfg.TrimSpace {
		chain = append(chain, orchestrator.TrimSpace)
	}
	if len(cfg.UppercaseColumns) > 0 {
		chain = append(chain, orchestrator.Uppercase(cfg.UppercaseColumns...))
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return orchestrator.Chain(chain...)
}

// RunBackground runs the scheduler, the orphan reconciler and the telemetry
// sampler until ctx is cancelled.
func (a *App) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})
	g.Go(func() error {
		a.Reconciler.Run(ctx, a.Config.Reconciler.Interval)
		return nil
	})
	g.Go(func() error {
		for range a.Reporter.Watch(ctx, a.Config.Telemetry.Cadence) {
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the database and cache connections.
func (a *App) Close() error {
	return errors.Join(a.cache.Close(), a.Store.Close())
}
