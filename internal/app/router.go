package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/temcen/productimporter/internal/middleware"
)

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Uploads are staged to disk; keep only small parts in memory
	router.MaxMultipartMemory = 8 << 20

	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	validate := middleware.NewValidationMiddleware(a.schemas)

	api := router.Group("/api")
	api.Use(middleware.RateLimit(a.config.Security.RateLimit, a.logger))
	{
		api.POST("/upload/", a.handlers.Imports.Upload)
		api.GET("/import/:job_id/status/", a.handlers.Imports.Status)

		products := api.Group("/products")
		{
			products.GET("/", a.handlers.Products.List)
			products.POST("/", validate.ValidateProduct(), a.handlers.Products.Create)
			products.POST("/bulk-delete/", a.handlers.Products.BulkDelete)
			products.GET("/:id/", a.handlers.Products.Get)
			products.PUT("/:id/", validate.ValidateProduct(), a.handlers.Products.Update)
			products.DELETE("/:id/", a.handlers.Products.Delete)
		}

		webhooks := api.Group("/webhooks")
		{
			webhooks.GET("/", a.handlers.Webhooks.List)
			webhooks.POST("/", validate.ValidateWebhook(), a.handlers.Webhooks.Create)
			webhooks.GET("/:id/", a.handlers.Webhooks.Get)
			webhooks.PUT("/:id/", validate.ValidateWebhook(), a.handlers.Webhooks.Update)
			webhooks.DELETE("/:id/", a.handlers.Webhooks.Delete)
			webhooks.POST("/:id/test/", a.handlers.Webhooks.Test)
		}
	}

	a.router = router
}
