// Package app is the composition root: it wires the store, the
// telemetry bus, the three pipelines, maintenance, and the HTTP API
// into one runnable unit. Singletons live here and nowhere else.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/hints"
	internalhttp "github.com/mjc/reencodarr-sub000/internal/http"
	"github.com/mjc/reencodarr-sub000/internal/http/handlers"
	"github.com/mjc/reencodarr-sub000/internal/intake"
	"github.com/mjc/reencodarr-sub000/internal/maintenance"
	"github.com/mjc/reencodarr-sub000/internal/mediainfo"
	"github.com/mjc/reencodarr-sub000/internal/pipeline"
	"github.com/mjc/reencodarr-sub000/internal/postprocess"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/runner"
	"github.com/mjc/reencodarr-sub000/internal/scheduler"
	"github.com/mjc/reencodarr-sub000/internal/state"
	"github.com/mjc/reencodarr-sub000/internal/version"
)

// App owns every long-lived component.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db  *database.DB
	bus *events.Bus

	videos    repository.VideoRepository
	vmafs     repository.VmafRepository
	libraries repository.LibraryRepository
	failures  repository.FailureRepository

	perf      *pipeline.PerfMonitor
	analyzer  *pipeline.Analyzer
	searcher  *pipeline.CrfSearcher
	encoder   *pipeline.Encoder
	intake    *intake.Service
	ops       *maintenance.Operations
	scheduler *scheduler.Scheduler
	server    *internalhttp.Server
}

// New wires the application from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	tempDir := cfg.TempDir()
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating temp dir %s: %w", tempDir, err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		db:     db,
		bus:    events.NewBus(logger),
	}

	a.videos = repository.NewVideoRepository(db.DB)
	a.vmafs = repository.NewVmafRepository(db.DB)
	a.libraries = repository.NewLibraryRepository(db.DB)
	a.failures = repository.NewFailureRepository(db.DB)

	machine := state.NewMachine(a.videos, a.failures, a.bus, logger)
	run := runner.New(logger)

	a.perf = pipeline.NewPerfMonitor(
		cfg.Analyzer.RateLimit, cfg.Analyzer.MediainfoBatchSize, a.bus, logger)

	// Pipelines chain through dispatch callbacks: analyzer wakes the
	// searcher, the searcher wakes the encoder.
	a.encoder = pipeline.NewEncoder(
		pipeline.RateLimit{Messages: cfg.Encoder.RateLimit, Interval: cfg.Encoder.Interval},
		a.videos, a.vmafs, machine, run,
		postprocess.New(nil, logger),
		a.bus, logger, tempDir, cfg.Encoder.Timeout,
	)
	a.searcher = pipeline.NewCrfSearcher(
		pipeline.RateLimit{Messages: cfg.CrfSearch.RateLimit, Interval: cfg.CrfSearch.Interval},
		a.videos, a.vmafs, a.failures, machine,
		hints.NewEngine(a.videos, a.vmafs, logger),
		run, a.bus, logger, tempDir,
		cfg.CrfSearch.PresetFallback,
		a.encoder.DispatchAvailable,
	)
	a.analyzer = pipeline.NewAnalyzer(
		pipeline.RateLimit{Messages: cfg.Analyzer.RateLimit, Interval: cfg.Analyzer.Interval},
		a.videos, machine,
		mediainfo.NewClient(run, logger),
		a.perf, a.bus, logger,
		a.searcher.DispatchAvailable,
	)

	a.intake = intake.NewService(
		a.videos, a.libraries, a.bus, logger,
		a.cfg.Intake.MinSize.Bytes(),
		a.analyzer.DispatchAvailable,
	)
	a.ops = maintenance.NewOperations(
		db, a.videos, a.vmafs, logger,
		a.analyzer.DispatchAvailable,
	)
	a.scheduler = scheduler.New(cfg.Scheduler, a.ops, a.failures, logger)

	a.server = a.buildServer()
	return a, nil
}

func (a *App) buildServer() *internalhttp.Server {
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * a.cfg.Server.ReadTimeout,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, a.logger, version.Version)

	handlers.NewHealthHandler(version.Version, a.db).Register(server.API())
	handlers.NewStatusHandler(a.videos, a.perf, a.analyzer, a.searcher, a.encoder).Register(server.API())
	handlers.NewVideoHandler(a.videos, a.vmafs, a.failures).Register(server.API())
	handlers.NewMaintenanceHandler(a.ops).Register(server.API())
	handlers.NewSyncHandler(a.intake).Register(server.API())
	handlers.NewEventsHandler(a.bus, a.logger).Register(server.Router())

	return server
}

// Run starts everything and blocks until ctx is cancelled or the HTTP
// server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()

	a.perf.Start(ctx)
	defer a.perf.Stop()

	a.analyzer.Start(ctx)
	defer a.analyzer.Stop()
	a.searcher.Start(ctx)
	defer a.searcher.Stop()
	a.encoder.Start(ctx)
	defer a.encoder.Stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	a.logger.Info("reencodarr started",
		slog.String("version", version.Version),
		slog.String("temp_dir", a.cfg.TempDir()),
	)

	return a.server.ListenAndServe(ctx)
}
