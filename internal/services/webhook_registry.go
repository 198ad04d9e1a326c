package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/internal/validation"
	"github.com/temcen/productimporter/pkg/models"
)

// WebhookRegistry manages webhook subscriptions. Disabled and deleted
// subscriptions are both INACTIVE rows.
type WebhookRegistry struct {
	webhooks store.Webhooks
	rules    *validation.Rules
	logger   *logrus.Logger
	now      func() time.Time
}

func NewWebhookRegistry(webhooks store.Webhooks, rules *validation.Rules, logger *logrus.Logger) *WebhookRegistry {
	return &WebhookRegistry{
		webhooks: webhooks,
		rules:    rules,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a subscription, enabled unless the input says otherwise.
func (wr *WebhookRegistry) Create(ctx context.Context, in models.WebhookInput) (*models.Webhook, error) {
	in, err := wr.rules.Webhook(in)
	if err != nil {
		return nil, err
	}

	webhook := &models.Webhook{
		Base:      models.NewBase(wr.now()),
		URL:       in.URL,
		EventType: models.EventType(in.EventType),
		Secret:    in.Secret,
	}
	if in.Enabled.Set {
		webhook.State = models.StateFromBool(in.Enabled.Value)
	}

	if err := wr.webhooks.Create(ctx, webhook); err != nil {
		return nil, err
	}

	wr.logger.WithFields(logrus.Fields{
		"webhook_id": webhook.ID,
		"event_type": webhook.EventType,
		"enabled":    webhook.Enabled(),
	}).Info("Webhook registered")

	return webhook, nil
}

func (wr *WebhookRegistry) Get(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	return wr.webhooks.Get(ctx, id)
}

// Update replaces url, event type and secret. The enabled flag changes only
// when the input carries one.
func (wr *WebhookRegistry) Update(ctx context.Context, id uuid.UUID, in models.WebhookInput) (*models.Webhook, error) {
	in, err := wr.rules.Webhook(in)
	if err != nil {
		return nil, err
	}

	webhook, err := wr.webhooks.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	webhook.URL = in.URL
	webhook.EventType = models.EventType(in.EventType)
	webhook.Secret = in.Secret
	if in.Enabled.Set {
		webhook.State = models.StateFromBool(in.Enabled.Value)
	}
	webhook.UpdatedAt = wr.now()

	if err := wr.webhooks.Update(ctx, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

// Delete disables the subscription.
func (wr *WebhookRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	if err := wr.webhooks.SetState(ctx, id, models.StateInactive, wr.now()); err != nil {
		return err
	}
	wr.logger.WithField("webhook_id", id).Info("Webhook deleted")
	return nil
}

// List returns subscriptions matching filter, newest first. Without an
// Enabled filter only enabled subscriptions are listed.
func (wr *WebhookRegistry) List(ctx context.Context, filter models.WebhookFilter) (models.WebhookList, error) {
	if filter.Enabled == nil {
		enabled := true
		filter.Enabled = &enabled
	}

	webhooks, err := wr.webhooks.List(ctx, filter)
	if err != nil {
		return models.WebhookList{}, err
	}

	results := make([]models.WebhookView, 0, len(webhooks))
	for _, w := range webhooks {
		results = append(results, w.View())
	}
	return models.WebhookList{Results: results, TotalCount: len(results)}, nil
}

// Subscribers returns the enabled subscriptions for eventType.
func (wr *WebhookRegistry) Subscribers(ctx context.Context, eventType models.EventType) ([]*models.Webhook, error) {
	enabled := true
	return wr.webhooks.List(ctx, models.WebhookFilter{EventType: eventType, Enabled: &enabled})
}
