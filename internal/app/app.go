// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	httpAdapter "github.com/jobrunner/flotsam/internal/adapters/http"
	"github.com/jobrunner/flotsam/internal/adapters/inference"
	"github.com/jobrunner/flotsam/internal/adapters/metrics"
	"github.com/jobrunner/flotsam/internal/adapters/preview"
	"github.com/jobrunner/flotsam/internal/adapters/projection"
	"github.com/jobrunner/flotsam/internal/adapters/sqlite"
	"github.com/jobrunner/flotsam/internal/adapters/storage"
	"github.com/jobrunner/flotsam/internal/adapters/watcher"
	"github.com/jobrunner/flotsam/internal/application"
	"github.com/jobrunner/flotsam/internal/config"
	"github.com/jobrunner/flotsam/internal/ports/input"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Results       output.ObjectStorage
	Store         *sqlite.Store
	Transformer   output.CoordinateTransformer
	Jobs          *application.JobService
	SyncService   *application.SyncService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server

	closers []io.Closer
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	var collector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewCollector("flotsam")
		a.MetricsServer = metrics.NewServer(cfg.MetricsAddress(), cfg.Metrics.Path, a.Metrics, a.Logger)
		collector = a.Metrics
	}

	var err error
	if a.Storage, err = initStorage(ctx, cfg.Storage); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	a.Results = a.Storage
	if cfg.Storage.Type == string(output.StorageTypeHTTP) {
		// HTTP sources are read-only; results go to the local path.
		a.Results = storage.NewLocalStorage(cfg.Storage.LocalPath, cfg.Storage.ResultsPrefix)
	}

	if a.Store, err = sqlite.Open(ctx, cfg.Database.Path); err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	a.closers = append(a.closers, a.Store)

	if a.Transformer, err = a.initTransformer(ctx); err != nil {
		return fmt.Errorf("initializing transformer: %w", err)
	}

	predictor, err := initPredictor(cfg.Inference, collector, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing predictor: %w", err)
	}

	scenes := application.NewSceneProvider(a.Storage, a.Transformer, collector, a.Logger, cfg.Storage.Type)
	jobs, err := NewJobService(cfg, application.JobDeps{
		Repo:        a.Store,
		Scenes:      scenes,
		Storage:     a.Results,
		Predictor:   predictor,
		Transformer: a.Transformer,
		Preview:     preview.NewRenderer(cfg.Pipeline.PreviewMaxDim),
		Metrics:     collector,
		Logger:      a.Logger,
	})
	if err != nil {
		return err
	}
	a.Jobs = jobs
	if err := a.Jobs.Init(ctx); err != nil {
		return fmt.Errorf("registering model: %w", err)
	}

	if cfg.Sync.Enabled {
		a.SyncService = application.NewSyncService(scenes, a.Store, a.Jobs, cfg.Sync.Interval, a.Logger)
	}

	a.HealthService = application.NewHealthService(a.Store, a.Jobs)

	var trigger input.SyncTrigger
	if a.SyncService != nil {
		trigger = a.SyncService
	}
	var middleware []mux.MiddlewareFunc
	if a.Metrics != nil {
		middleware = append(middleware, a.Metrics.Middleware)
	}
	a.HTTPServer = httpAdapter.NewServer(cfg.Server, a.Jobs, a.HealthService, trigger, a.Logger, middleware...)

	if cfg.Watcher.Enabled && cfg.Storage.Type == string(output.StorageTypeLocal) {
		w, err := watcher.New(
			watcher.Config{
				Paths:    cfg.WatchPaths(),
				Debounce: cfg.Watcher.Debounce,
			},
			a.handleFileEvent,
			a.Logger,
		)
		if err != nil {
			a.Logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			a.Watcher = w
		}
	}

	return nil
}

// NewJobService builds the job service from configuration.
func NewJobService(cfg *config.Config, deps application.JobDeps) (*application.JobService, error) {
	chain, err := PipelineConfig(cfg.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("configuring pipeline: %w", err)
	}
	return application.NewJobService(application.JobConfig{
		Model:             Model(cfg.Pipeline),
		Pipeline:          chain,
		VectorizeMode:     cfg.Pipeline.VectorizeMode,
		Threshold:         cfg.Pipeline.Threshold,
		ResultPrefix:      cfg.Storage.ResultsPrefix,
		JobTimeout:        cfg.Pipeline.JobTimeout,
		ProjectionWorkers: cfg.Projection.Workers,
		Concurrency:       cfg.Pipeline.Concurrency,
	}, deps)
}

// Start starts all application components. It blocks until the HTTP
// server stops.
func (a *App) Start(ctx context.Context) error {
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components. Running jobs are
// cancelled and recorded as failed before the job store closes.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	var errs []error
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	a.close()
	return errors.Join(errs...)
}

// close stops the job service and releases stores in reverse order.
func (a *App) close() {
	if a.Jobs != nil {
		a.Jobs.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Error("close failed", "error", err)
		}
	}
	a.closers = nil
}

// handleFileEvent submits scenes dropped into the inbox.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Info("file event", "path", event.Path, "operation", event.Operation.String())

	if event.Operation == watcher.OpDelete {
		return nil
	}

	key, ok := sceneKey(a.Config.Storage.LocalPath, event.Path)
	if !ok {
		a.Logger.Warn("scene outside storage root", "path", event.Path, "root", a.Config.Storage.LocalPath)
		return nil
	}
	// Written results land below the storage root too.
	results := strings.Trim(a.Config.Storage.ResultsPrefix, "/") + "/"
	if !application.IsSceneKey(key) || strings.HasPrefix(key, results) {
		return nil
	}

	known, err := a.Store.SceneKnown(ctx, key)
	if err != nil {
		return err
	}
	if known {
		a.Logger.Debug("scene already processed", "key", key)
		return nil
	}

	_, err = a.Jobs.Submit(ctx, key)
	return err
}

// sceneKey maps a file below root to its storage key.
func sceneKey(root, path string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (a *App) initTransformer(ctx context.Context) (output.CoordinateTransformer, error) {
	if a.Config.Projection.Engine != "spatialite" {
		return projection.NewBuiltin(), nil
	}
	t, err := sqlite.NewTransformer(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, t)
	return t, nil
}

func initPredictor(cfg config.InferenceConfig, collector output.MetricsCollector, logger *slog.Logger) (output.Predictor, error) {
	if cfg.Mode == "remote" {
		return inference.NewRemotePredictor(inference.RemoteConfig{
			Endpoint:       cfg.Endpoint,
			Timeout:        cfg.Timeout,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Rate:           cfg.Rate,
			Burst:          cfg.Burst,
		}, collector, logger)
	}
	return inference.NewIndexPredictor(cfg.RedBand, cfg.NIRBand)
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath, cfg.ResultsPrefix), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			ResultPrefix:    cfg.ResultsPrefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
			ResultPrefix:     cfg.ResultsPrefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
