package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/gradeflow/internal/config"
	"github.com/phrazzld/gradeflow/internal/events"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/phrazzld/gradeflow/internal/pipeline"
	"github.com/phrazzld/gradeflow/internal/platform/cache"
	"github.com/phrazzld/gradeflow/internal/platform/memory"
	"github.com/phrazzld/gradeflow/internal/platform/natsbus"
	"github.com/phrazzld/gradeflow/internal/platform/pdf"
	"github.com/phrazzld/gradeflow/internal/platform/postgres"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"github.com/phrazzld/gradeflow/internal/resilience"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// externalDeps are the connections opened before the application is built.
// A nil db selects the in-memory stores; a nil publisher with a configured
// NATS URL makes newApplication connect itself.
type externalDeps struct {
	db        *sql.DB
	provider  generation.Provider
	publisher natsbus.Publisher
}

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	documents store.DocumentStore
	roster    store.RosterStore
	docCache  *cache.DocumentStore

	// Observability and events
	meterProvider *sdkmetric.MeterProvider
	metrics       *telemetry.Metrics
	eventEmitter  *events.InMemoryEventEmitter
	bus           *natsbus.Bus

	// Task handling
	registry   *task.Registry
	taskRunner *task.TaskRunner
	janitor    *task.Janitor

	service *pipeline.Service
}

// newApplication creates a new application instance with all dependencies
// initialized and the task runner started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps externalDeps) (*application, error) {
	if deps.provider == nil {
		return nil, generation.ErrNilProvider
	}

	app := &application{
		config: cfg,
		logger: logger,
		db:     deps.db,
	}
	ok := false
	defer func() {
		if !ok {
			app.cleanup()
		}
	}()

	app.setupStores()
	if err := app.setupCache(); err != nil {
		return nil, err
	}

	app.meterProvider = sdkmetric.NewMeterProvider()
	metrics, err := telemetry.NewMetrics(app.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	app.metrics = metrics

	if err := app.setupEvents(ctx, deps.publisher); err != nil {
		return nil, err
	}

	orchestrator, err := app.setupOrchestrator(deps.provider)
	if err != nil {
		return nil, err
	}

	app.taskRunner = task.NewTaskRunner(task.TaskRunnerConfig{
		WorkerCount: cfg.Task.WorkerCount,
		QueueSize:   cfg.Task.QueueSize,
	}, logger)

	app.service, err = pipeline.NewService(orchestrator, app.registry, app.roster, app.taskRunner, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline service: %w", err)
	}
	app.taskRunner.SetErrorHandler(app.service.FailTask)
	app.taskRunner.SetDropHandler(func(t task.Task) {
		app.service.FailTask(t, task.ErrQueueClosed)
	})

	app.taskRunner.Start()
	if cfg.Task.Retention > 0 {
		app.janitor = task.NewJanitor(app.registry, cfg.Task.Retention, 0, logger)
		app.janitor.Start()
	}

	ok = true
	logger.Info("application initialized",
		"workers", cfg.Task.WorkerCount,
		"student_concurrency", cfg.Pipeline.StudentConcurrency,
		"default_model", cfg.LLM.ModelName)
	return app, nil
}

// setupStores picks the postgres stores when a database is open and the
// in-memory stores otherwise.
func (app *application) setupStores() {
	if app.db != nil {
		app.documents = postgres.NewPostgresDocumentStore(app.db, app.logger)
		app.roster = postgres.NewPostgresRosterStore(app.db, app.logger)
		return
	}
	docs := memory.NewDocumentStore()
	app.documents = docs
	app.roster = memory.NewRosterStore(docs)
}

// setupCache wraps the document store with the read cache when sized.
func (app *application) setupCache() error {
	if app.config.Cache.MaxCostBytes <= 0 {
		return nil
	}
	c, err := cache.NewDocumentStore(app.documents, app.config.Cache.MaxCostBytes, app.config.Cache.TTL, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create document cache: %w", err)
	}
	app.docCache = c
	app.documents = c
	return nil
}

// setupEvents builds the progress emitter: a log handler always, plus a
// NATS publisher when configured.
func (app *application) setupEvents(ctx context.Context, pub natsbus.Publisher) error {
	app.eventEmitter = events.NewInMemoryEventEmitter(app.logger)
	app.eventEmitter.RegisterHandler(events.NewLogHandler(app.logger))

	if pub == nil && app.config.Events.NATSURL != "" {
		bus, err := natsbus.Connect(ctx, app.config.Events.NATSURL, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		app.bus = bus
		pub = bus
	}
	if pub == nil {
		return nil
	}

	handler, err := natsbus.NewProgressHandler(pub, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create progress publisher: %w", err)
	}
	app.eventEmitter.RegisterHandler(handler)
	return nil
}

// setupOrchestrator builds the AI call chain and the stage orchestrator.
func (app *application) setupOrchestrator(provider generation.Provider) (*pipeline.Orchestrator, error) {
	cfg := app.config

	if cfg.Breaker.MaxFailures > 0 {
		provider = resilience.NewBreakerProvider(provider,
			resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout), app.logger)
	}

	client, err := generation.NewRetryingClient(provider, generation.PolicyFromConfig(cfg.Retry), app.logger,
		generation.WithRequestTimeout(cfg.LLM.RequestTimeout),
		generation.WithMetrics(app.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	prompts, err := generation.LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	renderer := pdf.NewRenderer()
	narrator, err := narrative.NewGenerator(client, prompts, renderer, app.metrics, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create narrative generator: %w", err)
	}

	app.registry = task.NewRegistry()

	return pipeline.NewOrchestrator(pipeline.Dependencies{
		Documents: app.documents,
		Roster:    app.roster,
		Registry:  app.registry,
		Client:    client,
		Prompts:   prompts,
		Narrative: narrator,
		Renderer:  renderer,
		Emitter:   app.eventEmitter,
		Metrics:   app.metrics,
	}, pipeline.Options{
		StudentConcurrency: cfg.Pipeline.StudentConcurrency,
		Models:             pipeline.NewModelSelection(cfg.LLM.ModelName, cfg.LLM.StageModels),
	}, app.logger)
}

// Run serves HTTP until ctx is cancelled or a shutdown signal arrives.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. In-flight
// tasks are cancelled at their next stage boundary.
func (app *application) cleanup() {
	if app.janitor != nil {
		app.janitor.Stop()
	}
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}
	if app.bus != nil {
		if err := app.bus.Close(); err != nil {
			app.logger.Error("error closing NATS connection", "error", err)
		}
	}
	if app.docCache != nil {
		app.docCache.Close()
	}
	if app.meterProvider != nil {
		if err := app.meterProvider.Shutdown(context.Background()); err != nil {
			app.logger.Error("error shutting down meter provider", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
