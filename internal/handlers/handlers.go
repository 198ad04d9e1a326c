package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/services"
)

type Handlers struct {
	Health   *HealthHandler
	Imports  *ImportHandler
	Products *ProductHandler
	Webhooks *WebhookHandler
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(logger, services.Health),
		Imports:  NewImportHandler(services.Imports, logger),
		Products: NewProductHandler(services.Products, logger),
		Webhooks: NewWebhookHandler(services.Webhooks, services.Dispatcher, logger),
	}
}

// respondError maps service errors onto the API error envelope.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var validationErr *apperrors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		body := gin.H{
			"code":    "VALIDATION_ERROR",
			"message": validationErr.Message,
		}
		if len(validationErr.Fields) > 0 {
			body["details"] = validationErr.Fields
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": body})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Not found",
			},
		})
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
	}
}

func invalidJSON(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "INVALID_JSON",
			"message": "Invalid JSON format",
			"details": err.Error(),
		},
	})
}

// pathID parses a UUID path parameter. A malformed id answers 404, the way
// an unmatched route would.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Not found",
			},
		})
		return uuid.Nil, false
	}
	return id, true
}

// queryInt returns the non-negative integer in a query parameter, 0 when absent
// or not a number.
func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
