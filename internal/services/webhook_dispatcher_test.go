package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/store/storetest"
	"github.com/temcen/productimporter/pkg/models"
)

type receivedRequest struct {
	Header http.Header
	Body   []byte
}

// receiver is an httptest server that records requests and answers with
// a fixed status and body.
type receiver struct {
	*httptest.Server
	mu       sync.Mutex
	requests []receivedRequest
	status   int
	body     string
}

func newReceiver(t *testing.T, status int, body string) *receiver {
	t.Helper()
	r := &receiver{status: status, body: body}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, receivedRequest{Header: req.Header.Clone(), Body: data})
		r.mu.Unlock()
		w.WriteHeader(r.status)
		_, _ = io.WriteString(w, r.body)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) received() []receivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedRequest(nil), r.requests...)
}

type dispatcherFixture struct {
	registry   *WebhookRegistry
	enqueuer   *recordingEnqueuer
	metrics    *Metrics
	dispatcher *WebhookDispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	cfg := testConfig(t)
	registry := NewWebhookRegistry(storetest.NewMemoryStore().Webhooks(), testRules(cfg), testLogger())
	enqueuer := &recordingEnqueuer{}
	metrics := NewMetrics(prometheus.NewRegistry(), testLogger())
	return &dispatcherFixture{
		registry:   registry,
		enqueuer:   enqueuer,
		metrics:    metrics,
		dispatcher: NewWebhookDispatcher(registry, enqueuer, metrics, cfg.Webhooks, testLogger()),
	}
}

func (f *dispatcherFixture) subscribe(t *testing.T, url string, eventType models.EventType, secret *string) *models.Webhook {
	t.Helper()
	webhook, err := f.registry.Create(context.Background(), models.WebhookInput{
		URL:       url,
		EventType: string(eventType),
		Secret:    secret,
	})
	require.NoError(t, err)
	return webhook
}

func TestWebhookDispatcher_TriggerQueuesFanOut(t *testing.T) {
	f := newDispatcherFixture(t)

	err := f.dispatcher.Trigger(context.Background(), models.EventProductCreated, map[string]interface{}{"product": map[string]string{"sku": "a"}})
	require.NoError(t, err)

	queued := f.enqueuer.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, TaskTriggerWebhooks, queued[0].Name)

	var req FanOutRequest
	require.NoError(t, json.Unmarshal(queued[0].Payload, &req))
	assert.Equal(t, models.EventProductCreated, req.EventType)
	assert.JSONEq(t, `{"product":{"sku":"a"}}`, string(req.Payload))
}

func TestWebhookDispatcher_FanOutTargetsEnabledSubscribers(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	a := f.subscribe(t, "https://a.example.com", models.EventImportCompleted, nil)
	b := f.subscribe(t, "https://b.example.com", models.EventImportCompleted, nil)
	f.subscribe(t, "https://c.example.com", models.EventImportFailed, nil)
	require.NoError(t, f.registry.Delete(ctx, b.ID))

	queued, err := f.dispatcher.FanOut(ctx, FanOutRequest{
		EventType: models.EventImportCompleted,
		Payload:   json.RawMessage(`{"import_job":{}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	tasks := f.enqueuer.queued()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskDeliverWebhook, tasks[0].Name)

	var req DeliveryRequest
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &req))
	assert.Equal(t, a.ID, req.SubscriptionID)
	assert.Equal(t, 0, req.Attempt)
	assert.JSONEq(t, `{"import_job":{}}`, string(req.Payload))
}

func TestWebhookDispatcher_Deliver(t *testing.T) {
	f := newDispatcherFixture(t)
	srv := newReceiver(t, http.StatusOK, strings.Repeat("é", 600))
	webhook := f.subscribe(t, srv.URL+"/hook", models.EventProductUpdated, strPtr("topsecret"))

	payload := json.RawMessage(`{"product":{"sku":"a"}}`)
	outcome := f.dispatcher.Deliver(context.Background(), webhook.ID, models.EventProductUpdated, payload)

	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.StatusCode)
	assert.Equal(t, http.StatusOK, *outcome.StatusCode)
	require.NotNil(t, outcome.ResponseTime)
	require.NotNil(t, outcome.ResponseBody)
	assert.Equal(t, 500, len([]rune(*outcome.ResponseBody)))
	assert.Empty(t, outcome.Error)

	requests := srv.received()
	require.Len(t, requests, 1)
	assert.Equal(t, "application/json", requests[0].Header.Get("Content-Type"))
	assert.Equal(t, "ProductImporter/1.0", requests[0].Header.Get("User-Agent"))
	assert.Equal(t, "topsecret", requests[0].Header.Get("X-Webhook-Secret"))
	assert.JSONEq(t, string(payload), string(requests[0].Body))
}

func TestWebhookDispatcher_DeliverWithoutSecret(t *testing.T) {
	f := newDispatcherFixture(t)
	srv := newReceiver(t, http.StatusNoContent, "")
	webhook := f.subscribe(t, srv.URL, models.EventProductUpdated, nil)

	outcome := f.dispatcher.Deliver(context.Background(), webhook.ID, models.EventProductUpdated, json.RawMessage(`{}`))
	assert.True(t, outcome.Success)
	assert.Nil(t, outcome.ResponseBody)

	requests := srv.received()
	require.Len(t, requests, 1)
	_, present := requests[0].Header["X-Webhook-Secret"]
	assert.False(t, present)
}

func TestWebhookDispatcher_DeliverMissingSubscription(t *testing.T) {
	f := newDispatcherFixture(t)

	outcome := f.dispatcher.Deliver(context.Background(), uuid.New(), models.EventProductCreated, json.RawMessage(`{}`))
	assert.False(t, outcome.Success)
	assert.Equal(t, "Webhook not found", outcome.Error)
	assert.Nil(t, outcome.StatusCode)
	assert.Nil(t, outcome.ResponseTime)
}

func TestWebhookDispatcher_DeliverTimeout(t *testing.T) {
	f := newDispatcherFixture(t)
	f.dispatcher.client.Timeout = 50 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	webhook := f.subscribe(t, srv.URL, models.EventProductCreated, nil)

	outcome := f.dispatcher.Deliver(context.Background(), webhook.ID, models.EventProductCreated, json.RawMessage(`{}`))
	assert.False(t, outcome.Success)
	assert.Equal(t, "Request timeout", outcome.Error)
	assert.Nil(t, outcome.StatusCode)
	assert.Nil(t, outcome.ResponseTime)
}

func TestWebhookDispatcher_DeliverConnectionError(t *testing.T) {
	f := newDispatcherFixture(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	webhook := f.subscribe(t, url, models.EventProductCreated, nil)

	outcome := f.dispatcher.Deliver(context.Background(), webhook.ID, models.EventProductCreated, json.RawMessage(`{}`))
	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.Error)
	assert.Nil(t, outcome.StatusCode)
}

func TestWebhookDispatcher_HandleDeliveryRetries(t *testing.T) {
	f := newDispatcherFixture(t)
	srv := newReceiver(t, http.StatusInternalServerError, "down")
	webhook := f.subscribe(t, srv.URL, models.EventProductDeleted, nil)
	payload := json.RawMessage(`{"product":{"sku":"a"}}`)

	delays := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}
	req := DeliveryRequest{SubscriptionID: webhook.ID, EventType: models.EventProductDeleted, Payload: payload}
	for attempt, delay := range delays {
		require.NoError(t, f.dispatcher.HandleDelivery(context.Background(), req))

		queued := f.enqueuer.queued()
		require.Len(t, queued, attempt+1)
		last := queued[attempt]
		assert.Equal(t, TaskDeliverWebhook, last.Name)
		assert.Equal(t, delay, last.Delay)

		require.NoError(t, json.Unmarshal(last.Payload, &req))
		assert.Equal(t, attempt+1, req.Attempt)
		assert.JSONEq(t, string(payload), string(req.Payload))
	}

	// Fourth failure is final
	require.NoError(t, f.dispatcher.HandleDelivery(context.Background(), req))
	assert.Len(t, f.enqueuer.queued(), 3)
	assert.Len(t, srv.received(), 4)

	for _, body := range srv.received() {
		assert.JSONEq(t, string(payload), string(body.Body))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.deliveries.WithLabelValues("product.deleted", "retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.deliveries.WithLabelValues("product.deleted", "dropped")))
}

func TestWebhookDispatcher_HandleDeliveryNotFoundIsNotRetried(t *testing.T) {
	f := newDispatcherFixture(t)

	err := f.dispatcher.HandleDelivery(context.Background(), DeliveryRequest{
		SubscriptionID: uuid.New(),
		EventType:      models.EventProductCreated,
		Payload:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Empty(t, f.enqueuer.queued())
}

func TestWebhookDispatcher_HandleDeliverySuccess(t *testing.T) {
	f := newDispatcherFixture(t)
	srv := newReceiver(t, http.StatusAccepted, "ok")
	webhook := f.subscribe(t, srv.URL, models.EventProductCreated, nil)

	require.NoError(t, f.dispatcher.HandleDelivery(context.Background(), DeliveryRequest{
		SubscriptionID: webhook.ID,
		EventType:      models.EventProductCreated,
		Payload:        json.RawMessage(`{}`),
	}))
	assert.Empty(t, f.enqueuer.queued())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.deliveries.WithLabelValues("product.created", "succeeded")))
}

func TestWebhookDispatcher_Test(t *testing.T) {
	f := newDispatcherFixture(t)
	srv := newReceiver(t, http.StatusOK, "")
	webhook := f.subscribe(t, srv.URL, models.EventImportFailed, nil)

	outcome, err := f.dispatcher.Test(context.Background(), webhook.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	requests := srv.received()
	require.Len(t, requests, 1)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(requests[0].Body, &body))
	assert.Equal(t, "import.failed", body["event_type"])
	assert.Equal(t, true, body["test"])
	assert.Equal(t, "This is a test webhook", body["message"])
	assert.IsType(t, float64(0), body["timestamp"])

	_, err = f.dispatcher.Test(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestHostLimiter(t *testing.T) {
	assert.Nil(t, newHostLimiter(0, 1))

	limiter := newHostLimiter(1, 1)
	target, err := http.NewRequest(http.MethodPost, "http://receiver.local/hook", nil)
	require.NoError(t, err)

	require.NoError(t, limiter.wait(context.Background(), target.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.wait(ctx, target.URL), "second request within a second must wait")
}
