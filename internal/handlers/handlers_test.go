package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/apperrors"
)

func testContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestRespondError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
		wantDetails bool
	}{
		{
			name:        "message only validation",
			err:         apperrors.NewValidation("No file provided"),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "VALIDATION_ERROR",
			wantMessage: "No file provided",
		},
		{
			name:        "field validation",
			err:         fmt.Errorf("create: %w", apperrors.NewFieldValidation(map[string]string{"sku": "SKU is required"})),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "VALIDATION_ERROR",
			wantMessage: "Validation failed",
			wantDetails: true,
		},
		{
			name:        "not found",
			err:         apperrors.NotFound("product", uuid.New()),
			wantStatus:  http.StatusNotFound,
			wantCode:    "NOT_FOUND",
			wantMessage: "Not found",
		},
		{
			name:        "unexpected",
			err:         errors.New("connection reset"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL_ERROR",
			wantMessage: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := testContext("/api/products/")
			respondError(c, logger, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body struct {
				Error struct {
					Code    string            `json:"code"`
					Message string            `json:"message"`
					Details map[string]string `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantMessage, body.Error.Message)
			if tt.wantDetails {
				assert.Equal(t, "SKU is required", body.Error.Details["sku"])
			} else {
				assert.Empty(t, body.Error.Details)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	tests := map[string]int{
		"/?page=3":   3,
		"/?page=":    0,
		"/?page=abc": 0,
		"/?page=-2":  0,
		"/":          0,
	}
	for target, want := range tests {
		c, _ := testContext(target)
		assert.Equal(t, want, queryInt(c, "page"), target)
	}
}

func TestPathID(t *testing.T) {
	c, w := testContext("/")
	c.Params = gin.Params{{Key: "job_id", Value: "12345"}}
	_, ok := pathID(c, "job_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := uuid.New()
	c, _ = testContext("/")
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	got, ok := pathID(c, "id")
	assert.True(t, ok)
	assert.Equal(t, id, got)
}
