package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/store/storetest"
	"github.com/temcen/productimporter/pkg/models"
)

func newTestRegistry(t *testing.T) *WebhookRegistry {
	t.Helper()
	cfg := testConfig(t)
	return NewWebhookRegistry(storetest.NewMemoryStore().Webhooks(), testRules(cfg), testLogger())
}

func TestWebhookRegistry_CreateAndUpdate(t *testing.T) {
	wr := newTestRegistry(t)
	ctx := context.Background()

	webhook, err := wr.Create(ctx, models.WebhookInput{
		URL:       "https://example.com/hook",
		EventType: "product.created",
		Secret:    strPtr("s3cret"),
	})
	require.NoError(t, err)
	assert.True(t, webhook.Enabled())
	require.NotNil(t, webhook.Secret)

	_, err = wr.Create(ctx, models.WebhookInput{URL: "https://example.com/hook", EventType: "product.created"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = wr.Create(ctx, models.WebhookInput{URL: "not a url", EventType: "product.created"})
	assert.True(t, apperrors.IsValidation(err))

	disabled, err := wr.Create(ctx, models.WebhookInput{
		URL:       "https://example.com/hook",
		EventType: "import.failed",
		Enabled:   models.FlexBool{Set: true, Value: false},
	})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())

	// Without an enabled flag the state is kept
	updated, err := wr.Update(ctx, disabled.ID, models.WebhookInput{URL: "https://example.com/other", EventType: "import.failed"})
	require.NoError(t, err)
	assert.False(t, updated.Enabled())
	assert.Equal(t, "https://example.com/other", updated.URL)

	updated, err = wr.Update(ctx, disabled.ID, models.WebhookInput{
		URL:       "https://example.com/other",
		EventType: "import.failed",
		Enabled:   models.FlexBool{Set: true, Value: true},
	})
	require.NoError(t, err)
	assert.True(t, updated.Enabled())

	_, err = wr.Update(ctx, uuid.New(), models.WebhookInput{URL: "https://example.com", EventType: "import.failed"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWebhookRegistry_ListAndDelete(t *testing.T) {
	wr := newTestRegistry(t)
	ctx := context.Background()

	created, err := wr.Create(ctx, models.WebhookInput{URL: "https://a.example.com", EventType: "product.created"})
	require.NoError(t, err)
	_, err = wr.Create(ctx, models.WebhookInput{URL: "https://b.example.com", EventType: "product.created"})
	require.NoError(t, err)
	_, err = wr.Create(ctx, models.WebhookInput{URL: "https://c.example.com", EventType: "product.deleted"})
	require.NoError(t, err)

	require.NoError(t, wr.Delete(ctx, created.ID))
	assert.ErrorIs(t, wr.Delete(ctx, uuid.New()), apperrors.ErrNotFound)

	// Deleted subscriptions are hidden unless asked for
	active, err := wr.List(ctx, models.WebhookFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, active.TotalCount)
	for _, view := range active.Results {
		assert.NotEqual(t, created.ID.String(), view.ID)
	}

	disabled := false
	deleted, err := wr.List(ctx, models.WebhookFilter{Enabled: &disabled})
	require.NoError(t, err)
	require.Equal(t, 1, deleted.TotalCount)
	assert.Equal(t, created.ID.String(), deleted.Results[0].ID)

	enabled := true
	list, err := wr.List(ctx, models.WebhookFilter{EventType: models.EventProductCreated, Enabled: &enabled})
	require.NoError(t, err)
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "https://b.example.com", list.Results[0].URL)

	subscribers, err := wr.Subscribers(ctx, models.EventProductCreated)
	require.NoError(t, err)
	require.Len(t, subscribers, 1)
	assert.Equal(t, "https://b.example.com", subscribers[0].URL)
}
