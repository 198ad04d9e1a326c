package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/services"
	"github.com/temcen/productimporter/pkg/models"
)

type ProductHandler struct {
	products *services.ProductService
	logger   *logrus.Logger
}

func NewProductHandler(products *services.ProductService, logger *logrus.Logger) *ProductHandler {
	return &ProductHandler{
		products: products,
		logger:   logger,
	}
}

func (h *ProductHandler) List(c *gin.Context) {
	query := services.ProductQuery{
		SKU:         c.Query("sku"),
		Name:        c.Query("name"),
		Description: c.Query("description"),
		Page:        queryInt(c, "page"),
		PageSize:    queryInt(c, "page_size"),
	}
	if active, ok := c.GetQuery("active"); ok {
		value := models.ParseTruthy(active)
		query.Active = &value
	}

	page, err := h.products.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *ProductHandler) Create(c *gin.Context) {
	var input models.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidJSON(c, err)
		return
	}

	product, err := h.products.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, product.View())
}

func (h *ProductHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	product, err := h.products.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, product.View())
}

func (h *ProductHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input models.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidJSON(c, err)
		return
	}

	product, err := h.products.Update(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, product.View())
}

func (h *ProductHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, err := h.products.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}

// BulkDelete soft-deletes every active product.
func (h *ProductHandler) BulkDelete(c *gin.Context) {
	count, err := h.products.BulkDelete(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Successfully deleted %d products", count),
		"count":   count,
	})
}
