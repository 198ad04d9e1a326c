package services

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

type HealthService struct {
	logger      *logrus.Logger
	timeout     time.Duration
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck

	// Prometheus metrics
	healthCheckStatus   *prometheus.GaugeVec
	lastHealthCheck     *prometheus.GaugeVec
	dbConnectionMetrics *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

func NewHealthService(logger *logrus.Logger, reg prometheus.Registerer) *HealthService {
	hs := &HealthService{
		logger:      logger,
		timeout:     5 * time.Second,
		critical:    make(map[string]HealthCheck),
		nonCritical: make(map[string]HealthCheck),
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.dbConnectionMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "database_connection_pool_usage",
		Help: "Database connection pool usage",
	}, []string{"database", "state"})

	if reg != nil {
		hs.healthCheckStatus = register(reg, hs.healthCheckStatus, logger).(*prometheus.GaugeVec)
		hs.lastHealthCheck = register(reg, hs.lastHealthCheck, logger).(*prometheus.GaugeVec)
		hs.dbConnectionMetrics = register(reg, hs.dbConnectionMetrics, logger).(*prometheus.GaugeVec)
	}

	return hs
}

// AddCritical registers a dependency whose failure makes the service unhealthy.
func (s *HealthService) AddCritical(name string, check HealthCheck) {
	s.critical[name] = check
}

// AddNonCritical registers a dependency whose failure only degrades the service.
func (s *HealthService) AddNonCritical(name string, check HealthCheck) {
	s.nonCritical[name] = check
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check critical services
	allCriticalHealthy := true
	for name, check := range s.critical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	// Check non-critical services
	for name, check := range s.nonCritical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}
	sort.Strings(status.Critical)
	sort.Strings(status.NonCritical)

	// Overall status
	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, check HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return check(ctx)
}

// StartCollectors samples connection pool gauges until ctx is done. Runtime
// metrics come from the Go collector. pool may be nil.
func (s *HealthService) StartCollectors(ctx context.Context, pool *pgxpool.Pool) {
	if pool != nil {
		go s.collectDatabaseMetrics(ctx, pool)
	}
}

// collectDatabaseMetrics collects database connection metrics
func (s *HealthService) collectDatabaseMetrics(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := pool.Stat()

		s.dbConnectionMetrics.WithLabelValues("postgresql", "acquired_conns").Set(float64(stats.AcquiredConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "idle_conns").Set(float64(stats.IdleConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "max_conns").Set(float64(stats.MaxConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "total_conns").Set(float64(stats.TotalConns()))

		if stats.MaxConns() > 0 {
			usage := float64(stats.AcquiredConns()) / float64(stats.MaxConns()) * 100
			s.dbConnectionMetrics.WithLabelValues("postgresql", "usage_percent").Set(usage)
		}
	}
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
