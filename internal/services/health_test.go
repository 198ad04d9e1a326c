package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHealthService_CheckHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name        string
		critical    HealthCheck
		nonCritical HealthCheck
		want        string
	}{
		{"all healthy", ok, ok, "healthy"},
		{"non-critical down", ok, down, "degraded"},
		{"critical down", down, ok, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(testLogger(), prometheus.NewRegistry())
			hs.AddCritical("postgresql", tt.critical)
			hs.AddNonCritical("redis", tt.nonCritical)

			status := hs.CheckHealth(context.Background())
			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.Services, 2)
		})
	}
}

func TestHealthService_Metrics(t *testing.T) {
	hs := NewHealthService(testLogger(), prometheus.NewRegistry())
	hs.AddCritical("postgresql", func(context.Context) error { return errors.New("down") })

	status := hs.CheckHealth(context.Background())
	assert.Equal(t, []string{"postgresql"}, status.Critical)
	assert.Equal(t, 0.0, testutil.ToFloat64(hs.healthCheckStatus.WithLabelValues("postgresql")))
}

func TestHealthService_LeavesRuntimeMetricsToGoCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	hs := NewHealthService(testLogger(), reg)
	hs.StartCollectors(context.Background(), nil)

	// The health service owns no runtime gauges, so the name stays free
	err := reg.Register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, []string{"metric_type"}))
	assert.NoError(t, err)
}
