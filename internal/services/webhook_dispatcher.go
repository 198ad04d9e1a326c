package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/tasks"
	"github.com/temcen/productimporter/pkg/models"
)

const (
	responseBodyLimit = 500
	webhookNotFound   = "Webhook not found"
	requestTimeout    = "Request timeout"
)

// FanOutRequest is the task payload that expands an event into deliveries.
type FanOutRequest struct {
	EventType models.EventType `json:"event_type"`
	Payload   json.RawMessage  `json:"payload"`
}

// DeliveryRequest is the task payload for one delivery attempt. Attempt
// counts from zero and is never written into Payload.
type DeliveryRequest struct {
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	EventType      models.EventType `json:"event_type"`
	Payload        json.RawMessage  `json:"payload"`
	Attempt        int              `json:"attempt"`
}

// WebhookDispatcher delivers events to subscribers at least once, retrying
// failed attempts with a linear backoff.
type WebhookDispatcher struct {
	registry *WebhookRegistry
	enqueuer tasks.Enqueuer
	client   *http.Client
	limiter  *hostLimiter
	metrics  *Metrics
	cfg      config.WebhookConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewWebhookDispatcher(
	registry *WebhookRegistry,
	enqueuer tasks.Enqueuer,
	metrics *Metrics,
	cfg config.WebhookConfig,
	logger *logrus.Logger,
) *WebhookDispatcher {
	return &WebhookDispatcher{
		registry: registry,
		enqueuer: enqueuer,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  newHostLimiter(cfg.HostRate, cfg.HostBurst),
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Trigger schedules fan-out of payload to every enabled subscriber of
// eventType. It returns once the fan-out task is queued.
func (wd *WebhookDispatcher) Trigger(ctx context.Context, eventType models.EventType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	return wd.enqueuer.Enqueue(ctx, TaskTriggerWebhooks, FanOutRequest{
		EventType: eventType,
		Payload:   body,
	})
}

// FanOut queues one delivery per enabled subscriber and returns how many
// were queued.
func (wd *WebhookDispatcher) FanOut(ctx context.Context, req FanOutRequest) (int, error) {
	subscribers, err := wd.registry.Subscribers(ctx, req.EventType)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscribers: %w", err)
	}

	var errs []error
	queued := 0
	for _, webhook := range subscribers {
		err := wd.enqueuer.Enqueue(ctx, TaskDeliverWebhook, DeliveryRequest{
			SubscriptionID: webhook.ID,
			EventType:      req.EventType,
			Payload:        req.Payload,
		})
		if err != nil {
			wd.logger.WithError(err).WithField("webhook_id", webhook.ID).Error("Failed to queue webhook delivery")
			errs = append(errs, err)
			continue
		}
		queued++
	}

	wd.logger.WithFields(logrus.Fields{
		"event_type":  req.EventType,
		"subscribers": len(subscribers),
		"queued":      queued,
	}).Debug("Webhook event fanned out")

	return queued, errors.Join(errs...)
}

// HandleDelivery runs one attempt and schedules the next one when it failed
// and attempts remain.
func (wd *WebhookDispatcher) HandleDelivery(ctx context.Context, req DeliveryRequest) error {
	outcome := wd.Deliver(ctx, req.SubscriptionID, req.EventType, req.Payload)

	logger := wd.logger.WithFields(logrus.Fields{
		"webhook_id": req.SubscriptionID,
		"event_type": req.EventType,
		"attempt":    req.Attempt,
	})

	if outcome.Success {
		wd.metrics.delivery(req.EventType, deliverySucceeded, outcome.ResponseTime)
		logger.WithField("status_code", *outcome.StatusCode).Info("Webhook delivered")
		return nil
	}

	if outcome.Error == webhookNotFound || req.Attempt >= wd.cfg.MaxRetries {
		wd.metrics.delivery(req.EventType, deliveryDropped, outcome.ResponseTime)
		logger.WithField("error", wd.describe(outcome)).Error("Webhook delivery failed permanently")
		return nil
	}

	next := req
	next.Attempt++
	delay := wd.cfg.RetryDelayStep * time.Duration(next.Attempt)
	if err := wd.enqueuer.EnqueueIn(ctx, TaskDeliverWebhook, next, delay); err != nil {
		return fmt.Errorf("failed to schedule webhook retry: %w", err)
	}

	wd.metrics.delivery(req.EventType, deliveryRetried, outcome.ResponseTime)
	logger.WithFields(logrus.Fields{
		"error":       wd.describe(outcome),
		"retry_after": delay.String(),
	}).Warn("Webhook delivery failed, retrying")
	return nil
}

func (wd *WebhookDispatcher) describe(outcome models.DeliveryOutcome) string {
	if outcome.Error != "" {
		return outcome.Error
	}
	err := &apperrors.TransientDeliveryError{StatusCode: *outcome.StatusCode}
	return err.Error()
}

// Deliver posts payload to an enabled subscription once. A missing or
// disabled subscription yields a failed outcome without a request.
func (wd *WebhookDispatcher) Deliver(ctx context.Context, subscriptionID uuid.UUID, eventType models.EventType, payload json.RawMessage) models.DeliveryOutcome {
	webhook, err := wd.registry.Get(ctx, subscriptionID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return models.DeliveryOutcome{Error: err.Error()}
		}
		return models.DeliveryOutcome{Error: webhookNotFound}
	}
	if !webhook.Enabled() {
		return models.DeliveryOutcome{Error: webhookNotFound}
	}
	return wd.post(ctx, webhook, payload)
}

// Test sends a synthetic event to the subscription and waits for the result.
func (wd *WebhookDispatcher) Test(ctx context.Context, webhookID uuid.UUID) (models.DeliveryOutcome, error) {
	webhook, err := wd.registry.Get(ctx, webhookID)
	if err != nil {
		return models.DeliveryOutcome{}, err
	}

	now := wd.now()
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": webhook.EventType,
		"test":       true,
		"timestamp":  float64(now.UnixNano()) / float64(time.Second),
		"message":    "This is a test webhook",
	})
	if err != nil {
		return models.DeliveryOutcome{}, err
	}

	return wd.post(ctx, webhook, payload), nil
}

func (wd *WebhookDispatcher) post(ctx context.Context, webhook *models.Webhook, payload json.RawMessage) models.DeliveryOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return models.DeliveryOutcome{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", wd.cfg.UserAgent)
	if webhook.Secret != nil {
		req.Header.Set("X-Webhook-Secret", *webhook.Secret)
	}

	if err := wd.limiter.wait(ctx, req.URL); err != nil {
		return models.DeliveryOutcome{Error: err.Error()}
	}

	start := time.Now()
	resp, err := wd.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return models.DeliveryOutcome{Error: requestTimeout}
		}
		return models.DeliveryOutcome{Error: err.Error()}
	}
	defer resp.Body.Close()

	// Four bytes per character covers any UTF-8 text
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit*4))
	elapsed := math.Round(time.Since(start).Seconds()*1000) / 1000
	status := resp.StatusCode

	outcome := models.DeliveryOutcome{
		Success:      status < http.StatusBadRequest,
		StatusCode:   &status,
		ResponseTime: &elapsed,
	}
	if len(raw) > 0 {
		body := []rune(string(raw))
		if len(body) > responseBodyLimit {
			body = body[:responseBodyLimit]
		}
		text := string(body)
		outcome.ResponseBody = &text
	}
	return outcome
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// hostLimiter paces requests per receiving host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newHostLimiter(perSecond float64, burst int) *hostLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (h *hostLimiter) wait(ctx context.Context, target *url.URL) error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	limiter, exists := h.limiters[target.Host]
	if !exists {
		limiter = rate.NewLimiter(h.limit, h.burst)
		h.limiters[target.Host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
