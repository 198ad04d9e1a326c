package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/services"
	"github.com/temcen/productimporter/pkg/models"
)

type WebhookHandler struct {
	registry   *services.WebhookRegistry
	dispatcher *services.WebhookDispatcher
	logger     *logrus.Logger
}

func NewWebhookHandler(registry *services.WebhookRegistry, dispatcher *services.WebhookDispatcher, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *WebhookHandler) List(c *gin.Context) {
	filter := models.WebhookFilter{
		EventType: models.EventType(c.Query("event_type")),
	}
	if enabled, ok := c.GetQuery("enabled"); ok {
		value := models.ParseTruthy(enabled)
		filter.Enabled = &value
	}

	list, err := h.registry.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *WebhookHandler) Create(c *gin.Context) {
	var input models.WebhookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidJSON(c, err)
		return
	}

	webhook, err := h.registry.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, webhook.View())
}

func (h *WebhookHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	webhook, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, webhook.View())
}

func (h *WebhookHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input models.WebhookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidJSON(c, err)
		return
	}

	webhook, err := h.registry.Update(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, webhook.View())
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook deleted successfully"})
}

// Test sends a synthetic event to the subscription and reports the outcome.
func (h *WebhookHandler) Test(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	outcome, err := h.dispatcher.Test(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
