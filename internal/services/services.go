package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/internal/tasks"
	"github.com/temcen/productimporter/internal/validation"
)

// Dependencies are the infrastructure handles services are built on.
type Dependencies struct {
	Store    store.Store
	Cache    SnapshotCache
	Enqueuer tasks.Enqueuer
	Registry prometheus.Registerer
}

type Services struct {
	Health     *HealthService
	Metrics    *Metrics
	Intake     *FileIntake
	Ledger     *ImportLedger
	Importer   *CSVImporter
	Imports    *ImportService
	Products   *ProductService
	Webhooks   *WebhookRegistry
	Dispatcher *WebhookDispatcher
}

func New(cfg *config.Config, logger *logrus.Logger, deps Dependencies) *Services {
	rules := validation.NewRules(cfg.Importer, cfg.Webhooks)
	metrics := NewMetrics(deps.Registry, logger)
	healthService := NewHealthService(logger, deps.Registry)

	intake := NewFileIntake(cfg.Importer, logger)
	ledger := NewImportLedger(deps.Store.ImportJobs(), deps.Cache, metrics, logger)

	webhookRegistry := NewWebhookRegistry(deps.Store.Webhooks(), rules, logger)
	dispatcher := NewWebhookDispatcher(webhookRegistry, deps.Enqueuer, metrics, cfg.Webhooks, logger)

	importer := NewCSVImporter(deps.Store, ledger, rules, dispatcher, metrics, cfg.Importer, logger)
	importService := NewImportService(intake, ledger, deps.Enqueuer, logger)
	productService := NewProductService(deps.Store.Products(), rules, dispatcher, cfg.Importer, logger)

	return &Services{
		Health:     healthService,
		Metrics:    metrics,
		Intake:     intake,
		Ledger:     ledger,
		Importer:   importer,
		Imports:    importService,
		Products:   productService,
		Webhooks:   webhookRegistry,
		Dispatcher: dispatcher,
	}
}

// RegisterTasks binds this set's task handlers to registry.
func (s *Services) RegisterTasks(registry *tasks.Registry, cfg config.TasksConfig) {
	RegisterTasks(registry, cfg, s.Importer, s.Intake, s.Dispatcher)
}
