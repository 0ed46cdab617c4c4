// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/api"
	"github.com/JakeFAU/paper-harvester/internal/config"
	idgen "github.com/JakeFAU/paper-harvester/internal/id/uuid"
	"github.com/JakeFAU/paper-harvester/internal/progress"
	"github.com/JakeFAU/paper-harvester/internal/progress/sinks"
	"github.com/JakeFAU/paper-harvester/internal/storage/sqlite"
)

// Options configure New.
type Options struct {
	Config config.Config
	Logger *zap.Logger
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
}

// App holds the shared services of one CLI invocation: configuration, logger,
// run identity, the progress hub with its sinks, and the optional catalog.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   uuid.UUID
	hub     *progress.Hub
	tally   *sinks.TallySink
	catalog *sqlite.Catalog

	serverWG  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates the services. It fails fast if the catalog cannot be opened.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", runID.String()))

	tally := sinks.NewTallySink()
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), tally}
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		logger.Warn("progress metrics disabled", zap.Error(err))
	} else {
		hubSinks = append(hubSinks, promSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, hubSinks...)

	a := &App{
		cfg:    opts.Config,
		logger: logger,
		runID:  runID,
		hub:    hub,
		tally:  tally,
	}

	if path := opts.Config.Storage.CatalogPath; path != "" {
		catalog, err := sqlite.Open(ctx, path)
		if err != nil {
			_ = hub.Close(ctx)
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		logger.Info("catalog opened", zap.String("path", path))
		a.catalog = catalog
	}

	logger.Info("application services initialized")
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger, already tagged with the run id.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this invocation in logs, events and summaries.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Events returns the progress emitter.
func (a *App) Events() progress.Emitter {
	return a.hub
}

// Tally returns the in-memory progress counts.
func (a *App) Tally() *sinks.TallySink {
	return a.tally
}

// Catalog returns the resume catalog, or nil when none is configured.
func (a *App) Catalog() *sqlite.Catalog {
	return a.catalog
}

// StartServer serves the operator endpoint in the background until ctx ends.
// It does nothing when server.metrics_addr is empty.
func (a *App) StartServer(ctx context.Context, src api.Sources) {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return
	}
	if src.Tally == nil {
		src.Tally = a.tally
	}
	if src.Dropped == nil {
		src.Dropped = a.hub.Dropped
	}
	if src.Catalog == nil && a.catalog != nil {
		src.Catalog = a.catalog
	}
	logger := a.logger.Named("api")
	srv := api.NewServer(api.NewProgressHandler(src, logger), logger)

	a.serverWG.Add(1)
	go func() {
		defer a.serverWG.Done()
		if err := api.Serve(ctx, addr, srv.Handler(), logger); err != nil {
			logger.Error("operator endpoint failed", zap.Error(err))
		}
	}()
}

// Close flushes progress sinks, closes the catalog and waits for the operator
// endpoint, which stops once the context passed to StartServer ends.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application services")
		var errs []error
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if a.catalog != nil {
			if err := a.catalog.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close catalog: %w", err))
			}
		}
		a.serverWG.Wait()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
