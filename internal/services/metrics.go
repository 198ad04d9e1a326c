package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/pkg/models"
)

// Metrics holds the importer and webhook collectors
type Metrics struct {
	importRows      *prometheus.CounterVec
	importJobs      *prometheus.CounterVec
	importDuration  prometheus.Histogram
	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, logger *logrus.Logger) *Metrics {
	m := &Metrics{
		importRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_rows_total",
				Help: "CSV rows processed, by outcome",
			},
			[]string{"outcome"},
		),
		importJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_jobs_total",
				Help: "Import jobs finished, by final status",
			},
			[]string{"status"},
		),
		importDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "import_duration_seconds",
				Help:    "Wall time of finished import jobs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Webhook delivery attempts, by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		deliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_latency_seconds",
				Help:    "Response time of webhook receivers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
	}

	if reg != nil {
		m.importRows = register(reg, m.importRows, logger).(*prometheus.CounterVec)
		m.importJobs = register(reg, m.importJobs, logger).(*prometheus.CounterVec)
		m.importDuration = register(reg, m.importDuration, logger).(prometheus.Histogram)
		m.deliveries = register(reg, m.deliveries, logger).(*prometheus.CounterVec)
		m.deliveryLatency = register(reg, m.deliveryLatency, logger).(*prometheus.HistogramVec)
	}

	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector, logger *logrus.Logger) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		logger.WithError(err).Warn("Failed to register metric")
	}
	return c
}

func (m *Metrics) rows(created, updated, failed int) {
	m.importRows.WithLabelValues("created").Add(float64(created))
	m.importRows.WithLabelValues("updated").Add(float64(updated))
	m.importRows.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) jobFinished(job *models.ImportJob) {
	m.importJobs.WithLabelValues(string(job.Status)).Inc()
	if d := job.Duration(); d != nil {
		m.importDuration.Observe(*d)
	}
}

// Delivery outcomes
const (
	deliverySucceeded = "succeeded"
	deliveryRetried   = "retried"
	deliveryDropped   = "dropped"
)

func (m *Metrics) delivery(eventType models.EventType, outcome string, latency *float64) {
	m.deliveries.WithLabelValues(string(eventType), outcome).Inc()
	if latency != nil {
		m.deliveryLatency.WithLabelValues(string(eventType)).Observe(*latency)
	}
}
