package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/validation"
	"github.com/temcen/productimporter/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Importer.UploadDir = t.TempDir()
	cfg.Webhooks.Timeout = 500 * time.Millisecond
	cfg.Webhooks.HostRate = 0
	return cfg
}

func testRules(cfg *config.Config) *validation.Rules {
	return validation.NewRules(cfg.Importer, cfg.Webhooks)
}

func strPtr(s string) *string { return &s }

type enqueued struct {
	Name    string
	Payload json.RawMessage
	Delay   time.Duration
}

// recordingEnqueuer keeps queued tasks instead of running them.
type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueued
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, name string, payload interface{}) error {
	return e.EnqueueIn(ctx, name, payload, 0)
}

func (e *recordingEnqueuer) EnqueueIn(_ context.Context, name string, payload interface{}, delay time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, enqueued{Name: name, Payload: raw, Delay: delay})
	return nil
}

func (e *recordingEnqueuer) queued() []enqueued {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]enqueued(nil), e.tasks...)
}

// mockEnqueuer is an Enqueuer driven by expectations.
type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, name string, payload interface{}) error {
	args := m.Called(ctx, name, payload)
	return args.Error(0)
}

func (m *mockEnqueuer) EnqueueIn(ctx context.Context, name string, payload interface{}, delay time.Duration) error {
	args := m.Called(ctx, name, payload, delay)
	return args.Error(0)
}

type triggered struct {
	EventType models.EventType
	Payload   map[string]interface{}
}

// recordingTrigger captures events as decoded JSON.
type recordingTrigger struct {
	mu     sync.Mutex
	events []triggered
}

func (r *recordingTrigger) Trigger(_ context.Context, eventType models.EventType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, triggered{EventType: eventType, Payload: decoded})
	return nil
}

func (r *recordingTrigger) all() []triggered {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]triggered(nil), r.events...)
}
