package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/temcen/productimporter/internal/validation"
)

// ValidationMiddleware rejects request bodies whose shape does not match the
// JSON schema of the resource before handlers see them.
type ValidationMiddleware struct {
	validator *validation.SchemaValidator
}

func NewValidationMiddleware(validator *validation.SchemaValidator) *ValidationMiddleware {
	return &ValidationMiddleware{
		validator: validator,
	}
}

func (vm *ValidationMiddleware) ValidateProduct() gin.HandlerFunc {
	return vm.validateRequestBody(validation.SchemaProduct)
}

func (vm *ValidationMiddleware) ValidateWebhook() gin.HandlerFunc {
	return vm.validateRequestBody(validation.SchemaWebhook)
}

func (vm *ValidationMiddleware) validateRequestBody(schemaName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut {
			c.Next()
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			vm.sendValidationError(c, "BODY_READ_ERROR", "Failed to read request body", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		// Restore request body for downstream handlers
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if len(bytes.TrimSpace(bodyBytes)) == 0 {
			vm.sendValidationError(c, "EMPTY_BODY", "Request body is required", nil)
			return
		}

		if !json.Valid(bodyBytes) {
			vm.sendValidationError(c, "INVALID_JSON", "Request body must be valid JSON", nil)
			return
		}

		result := vm.validator.ValidateJSON(schemaName, bodyBytes)
		if !result.Valid {
			vm.sendValidationErrors(c, result.Errors)
			return
		}

		c.Next()
	}
}

func (vm *ValidationMiddleware) sendValidationError(c *gin.Context, code, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   message,
			"details":   details,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": GetRequestID(c),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		},
	})
}

func (vm *ValidationMiddleware) sendValidationErrors(c *gin.Context, errors []validation.ValidationError) {
	errorDetails := make(map[string]interface{})
	errorDetails["validationErrors"] = errors

	// Group errors by field for easier client handling
	fieldErrors := make(map[string][]string)
	for _, err := range errors {
		if err.Field != "" {
			fieldErrors[err.Field] = append(fieldErrors[err.Field], err.Message)
		}
	}

	if len(fieldErrors) > 0 {
		errorDetails["fieldErrors"] = fieldErrors
	}

	vm.sendValidationError(c, "VALIDATION_ERROR", "Request validation failed", errorDetails)
}
