// -----------------------------------------------------------------------
// Application container - wires storage, workers, relay and handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/elevation"
	"github.com/ternarybob/mapgen/internal/handlers"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/jobs"
	"github.com/ternarybob/mapgen/internal/mosaic"
	"github.com/ternarybob/mapgen/internal/relay"
	"github.com/ternarybob/mapgen/internal/render"
	"github.com/ternarybob/mapgen/internal/services/retention"
	"github.com/ternarybob/mapgen/internal/storage"
	"github.com/ternarybob/mapgen/internal/worker"
)

// stopper is implemented by both dispatchers
type stopper interface {
	Stop()
}

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ConfigPaths    []string
	StorageManager interfaces.StorageManager

	// Job execution
	Orchestrator *jobs.Orchestrator
	Registry     *relay.Registry
	Dispatcher   interfaces.Dispatcher
	Retention    *retention.Service

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	MapHandler     *handlers.MapHandler
	MonitorHandler *handlers.MonitorHandler
}

// New creates the serving application. configPaths are handed to worker
// processes so they load the same configuration.
func New(cfg *common.Config, configPaths []string, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:      cfg,
		Logger:      logger,
		ConfigPaths: configPaths,
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("worker_mode", app.workerMode()).
		Int("max_concurrent", cfg.Worker.MaxConcurrent).
		Bool("retention", cfg.Retention.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the job store
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("type", a.Config.Storage.Type).
		Msg("Job store initialized")
	return nil
}

func (a *App) initServices() error {
	store := a.StorageManager.JobStore()

	a.Orchestrator = newOrchestrator(store, a.Config, a.Logger)
	a.Registry = relay.NewRegistry(a.Logger)

	if a.workerMode() == "process" {
		dispatcher, err := worker.NewProcessDispatcher(worker.ProcessOptions{
			Executable:    a.Config.Worker.Executable,
			ConfigPaths:   a.ConfigPaths,
			MaxConcurrent: a.Config.Worker.MaxConcurrent,
			QueueWait:     a.Config.Worker.QueueWait,
		}, store, a.Registry, a.Logger)
		if err != nil {
			return err
		}
		a.Dispatcher = dispatcher
	} else {
		pool := worker.NewWorkerPool(a.Orchestrator, store, a.Registry, a.Logger, a.Config.Worker.MaxConcurrent)
		pool.Start()
		a.Dispatcher = pool
	}

	if a.Config.Retention.Enabled {
		a.Retention = retention.NewService(a.StorageManager, a.Config, a.Logger)
		if err := a.Retention.Start(a.Config.Retention.Schedule); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) initHandlers() {
	store := a.StorageManager.JobStore()

	a.APIHandler = handlers.NewAPIHandler(store, a.Logger)
	a.MapHandler = handlers.NewMapHandler(store, a.Dispatcher, a.Config, a.Logger)
	a.MonitorHandler = handlers.NewMonitorHandler(a.Registry, &a.Config.Relay, a.Logger)
}

// workerMode returns the effective dispatch mode. Badger holds an exclusive
// directory lock, so worker processes cannot open it alongside the server.
func (a *App) workerMode() string {
	if a.Config.Worker.Mode == "process" && !storage.SupportsMultiProcess(a.Config) {
		a.Logger.Warn().
			Str("storage", a.Config.Storage.Type).
			Msg("Storage backend is single-process, running jobs in-process")
		a.Config.Worker.Mode = "inprocess"
	}
	return a.Config.Worker.Mode
}

// Close stops background work, waiting up to ctx for running jobs
func (a *App) Close(ctx context.Context) error {
	if a.Retention != nil {
		a.Retention.Stop()
	}

	if a.Dispatcher != nil {
		if err := a.Dispatcher.Wait(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Jobs still running at shutdown, stopping them")
		}
		if s, ok := a.Dispatcher.(stopper); ok {
			s.Stop()
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

// RunWorker runs one job inside a worker process started by the dispatcher
func RunWorker(ctx context.Context, cfg *common.Config, requestID string, logger arbor.ILogger) error {
	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer storageManager.Close()

	orchestrator := newOrchestrator(storageManager.JobStore(), cfg, logger)
	return worker.RunChild(ctx, orchestrator, requestID, logger)
}

func newOrchestrator(store interfaces.JobStore, cfg *common.Config, logger arbor.ILogger) *jobs.Orchestrator {
	return jobs.NewOrchestrator(
		store,
		elevation.NewFetcher(&cfg.Elevation, logger),
		mosaic.NewGeoTIFFWarper(cfg.Render.MaxRasterPixels, logger),
		render.NewPDFRenderer(&cfg.Render, logger),
		cfg,
		logger,
	)
}
