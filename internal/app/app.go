package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/database"
	"github.com/temcen/productimporter/internal/handlers"
	"github.com/temcen/productimporter/internal/messaging"
	"github.com/temcen/productimporter/internal/services"
	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/internal/tasks"
	"github.com/temcen/productimporter/internal/validation"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *prometheus.Registry
	broker   tasks.Broker
	runner   *tasks.Runner
	services *services.Services
	handlers *handlers.Handlers
	schemas  *validation.SchemaValidator
	router   *gin.Engine

	stopCollectors context.CancelFunc
}

// Infrastructure is what an App runs on. Database is nil when the store is
// not PostgreSQL backed.
type Infrastructure struct {
	Database *database.Database
	Store    store.Store
	Cache    services.SnapshotCache
	Broker   tasks.Broker
}

func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg)

	// Initialize database connections
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	broker, err := newBroker(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app, err := build(cfg, logger, Infrastructure{
		Database: db,
		Store:    store.NewPG(db.PG),
		Cache:    services.NewRedisSnapshotCache(db.Redis, cfg.Redis.SnapshotTTL),
		Broker:   broker,
	})
	if err != nil {
		_ = broker.Close()
		_ = db.Close()
		return nil, err
	}

	app.services.Health.AddNonCritical("redis", func(ctx context.Context) error {
		return db.Redis.Ping(ctx).Err()
	})
	if kafkaBroker, ok := broker.(*messaging.KafkaBroker); ok {
		app.services.Health.AddNonCritical("task_broker", kafkaBroker.Ping)
		if err := kafkaBroker.RegisterMetrics(app.registry); err != nil {
			logger.WithError(err).Warn("Task broker metrics unavailable")
		}
	}

	return app, nil
}

// newBroker selects Kafka when brokers are configured, the in-process queue
// otherwise.
func newBroker(cfg *config.Config, db *database.Database, logger *logrus.Logger) (tasks.Broker, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("No Kafka brokers configured, using the in-process task queue")
		return tasks.NewMemoryBroker(cfg.Tasks.QueueSize), nil
	}

	scheduler := messaging.NewRedisScheduler(db.Redis, cfg.Tasks.SchedulerPollInterval, logger)
	broker, err := messaging.NewKafkaBroker(cfg.Kafka, scheduler, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Kafka broker: %w", err)
	}
	return broker, nil
}

// build wires services, task handlers and the router on top of infra.
func build(cfg *config.Config, logger *logrus.Logger, infra Infrastructure) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	schemas := validation.NewSchemaValidator()
	if err := schemas.LoadEmbedded(); err != nil {
		return nil, fmt.Errorf("failed to load request schemas: %w", err)
	}

	taskRegistry := tasks.NewRegistry()
	runner := tasks.NewRunner(cfg.Tasks, taskRegistry, infra.Broker, logger, registry)

	svcs := services.New(cfg, logger, services.Dependencies{
		Store:    infra.Store,
		Cache:    infra.Cache,
		Enqueuer: runner,
		Registry: registry,
	})
	svcs.RegisterTasks(taskRegistry, cfg.Tasks)
	svcs.Health.AddCritical("postgresql", infra.Store.Ping)

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       infra.Database,
		registry: registry,
		broker:   infra.Broker,
		runner:   runner,
		services: svcs,
		handlers: handlers.New(logger, svcs),
		schemas:  schemas,
	}
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the task workers and background metric collectors.
func (a *App) Start(ctx context.Context) error {
	if err := a.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	collectorCtx, cancel := context.WithCancel(ctx)
	a.stopCollectors = cancel
	if a.db != nil {
		a.services.Health.StartCollectors(collectorCtx, a.db.PG)
	} else {
		a.services.Health.StartCollectors(collectorCtx, nil)
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.stopCollectors != nil {
		a.stopCollectors()
	}

	var errs []error
	done := make(chan error, 1)
	go func() { done <- a.runner.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("task runner did not stop in time: %w", ctx.Err()))
	}

	if err := a.broker.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing task broker")
		errs = append(errs, err)
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing database connections")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
