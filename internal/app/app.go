// Package app provides the application container and dependency wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/JakeFAU/parmon/internal/api"
	"github.com/JakeFAU/parmon/internal/clock/system"
	"github.com/JakeFAU/parmon/internal/config"
	"github.com/JakeFAU/parmon/internal/id/uuid"
	"github.com/JakeFAU/parmon/internal/logging"
	"github.com/JakeFAU/parmon/internal/loop"
	"github.com/JakeFAU/parmon/internal/monitor"
	"github.com/JakeFAU/parmon/internal/pool"
	memorypublisher "github.com/JakeFAU/parmon/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/parmon/internal/publisher/pubsub"
	"github.com/JakeFAU/parmon/internal/render"
	"github.com/JakeFAU/parmon/internal/report"
	gcsstorage "github.com/JakeFAU/parmon/internal/storage/gcs"
	localstorage "github.com/JakeFAU/parmon/internal/storage/local"
	memoryStorage "github.com/JakeFAU/parmon/internal/storage/memory"
	pgstore "github.com/JakeFAU/parmon/internal/storage/postgres"
	"github.com/JakeFAU/parmon/internal/store"
	"github.com/JakeFAU/parmon/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// defaultCompletionTopic is used for the run-completion event when no
// Pub/Sub topic is configured, so the in-memory fallback still sees it.
const defaultCompletionTopic = "run-completions"

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	monitor         *monitor.Monitor
	archiver        *report.Archiver
	runRepo         store.RunRepository
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storageClient   *storage.Client
	tracerShutdown  func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort      int    `json:"server_port"`
		TotalIterations int64  `json:"total_iterations"`
		Workers         int    `json:"workers"`
		StorageBackend  string `json:"storage_backend"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:      cfg.Server.Port,
		TotalIterations: cfg.Monitor.TotalIterations,
		Workers:         cfg.Monitor.Workers,
		StorageBackend:  cfg.Storage.Backend,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Pool.Enabled {
		go a.runPool(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// runPool drives the configured loop with the built-in worker pool and
// closes the monitor when every share is finished, so the final report is
// archived without waiting for the process to exit.
func (a *App) runPool(ctx context.Context) {
	desc, err := a.monitor.Descriptor()
	if err != nil {
		a.logger.Error("pool start failed", zap.Error(err))
		return
	}
	delay := a.cfg.Pool.BodyDelay
	body := func(ctx context.Context, _ int64) error {
		if delay <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			return nil
		}
	}
	p, err := pool.New(pool.Config{
		Workers:    a.cfg.Monitor.Workers,
		Descriptor: desc,
		Logger:     a.logger.Named("pool"),
	}, body)
	if err != nil {
		a.logger.Error("pool init failed", zap.Error(err))
		return
	}
	a.logger.Info("pool started", zap.Int("workers", a.cfg.Monitor.Workers))
	if err := p.Run(ctx); err != nil {
		a.logger.Warn("pool run interrupted", zap.Error(err))
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.monitor.Close(closeCtx); err != nil {
		a.logger.Warn("monitor close failed", zap.Error(err))
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.monitor != nil {
		if err := a.monitor.Close(ctx); err != nil {
			a.logger.Warn("monitor close failed", zap.Error(err))
		}
	}
	if a.archiver != nil {
		if loc := a.archiver.Location(); loc != "" {
			a.logger.Info("run report archived", zap.String("location", loc))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if pg, ok := a.runRepo.(*pgstore.RunStore); ok {
		pg.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, "parmon")
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupMonitor(ctx, app, blobStore, publisher); err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(app.monitor, app.runRepo, cfg, logger.Named("api"))

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (report.BlobStore, error) {
	var blobStore report.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		app.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storageClient, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{
			BaseDir: app.cfg.Storage.Local.BaseDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Info("no database configured, keeping run history in memory")
		app.runRepo = memoryStorage.NewRunStore()
		return nil
	}
	repo, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runRepo = repo
	app.logger.Info("run store initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (monitor.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Topic(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupMonitor(ctx context.Context, app *App, blobStore report.BlobStore, publisher monitor.Publisher) error {
	runID, err := uuid.New().NewRawID()
	if err != nil {
		return fmt.Errorf("run id init failed: %w", err)
	}
	startedAt := system.New().Now()

	var sinks []render.Sink
	if app.cfg.Render.TerminalEnabled {
		sinks = append(sinks, render.NewTerminalSink(os.Stdout, app.cfg.Render.BarWidth, app.cfg.Monitor.ShowWorkerProgress))
		app.logger.Debug("Added terminal render sink")
	}
	if app.cfg.Render.LogEnabled {
		sinks = append(sinks, render.NewLogSink(app.logger.Named("render_log")))
		app.logger.Debug("Added log render sink")
	}
	promSink, err := render.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, promSink)
	sinks = append(sinks, render.NewStoreSink(app.runRepo, store.Run{
		ID:              runID,
		Title:           app.cfg.Monitor.Title,
		TotalIterations: app.cfg.Monitor.TotalIterations,
		Workers:         app.cfg.Monitor.Workers,
		StartedAt:       startedAt,
	}, app.logger.Named("run_store")))

	app.archiver, err = report.NewArchiver(report.Config{
		Store:       blobStore,
		RunID:       runID,
		StartedAt:   startedAt,
		Prefix:      app.cfg.Storage.Prefix,
		ContentType: app.cfg.Storage.ContentType,
		Logger:      app.logger.Named("report"),
	})
	if err != nil {
		return fmt.Errorf("report archiver init failed: %w", err)
	}
	sinks = append(sinks, app.archiver)

	topic := app.cfg.PubSub.TopicName
	if topic == "" {
		topic = defaultCompletionTopic
	}

	app.monitor, err = monitor.New(monitor.Config{
		Spec: loop.Spec{
			TotalIterations: app.cfg.Monitor.TotalIterations,
			Workers:         app.cfg.Monitor.Workers,
		},
		Title:              app.cfg.Monitor.Title,
		UpdatePeriod:       app.cfg.Monitor.UpdatePeriod,
		ShowWorkerProgress: app.cfg.Monitor.ShowWorkerProgress,
		ListenAddr:         app.cfg.Monitor.ListenAddr,
		SinkTimeout:        app.cfg.Render.SinkTimeout,
		RunID:              runID,
		BaseContext:        ctx,
		Logger:             app.logger.Named("monitor"),
		Publisher:          publisher,
		Topic:              topic,
	}, sinks...)
	if err != nil {
		return fmt.Errorf("monitor init failed: %w", err)
	}
	app.logger.Info("monitor initialized",
		zap.String("run_id", runID.String()),
		zap.String("addr", app.monitor.Addr()),
		zap.Int64("total_iterations", app.cfg.Monitor.TotalIterations),
		zap.Int("workers", app.cfg.Monitor.Workers),
	)
	return nil
}
