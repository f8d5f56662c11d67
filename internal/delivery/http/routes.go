package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/config"
	"github.com/scentmatch/backend/internal/observability"
)

// SetupRouter creates and configures the Gin router. metrics may be nil.
func SetupRouter(cfg *config.Config, handler *Handler, metrics *observability.Metrics, logger zerolog.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RequestIDMiddleware())
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	if metrics != nil {
		router.Use(MetricsMiddleware(metrics))
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.PerIP, cfg.RateLimit.Burst))
	{
		search := v1.Group("/search")
		{
			search.GET("", handler.Search)
			search.GET("/smart", handler.SmartSearch)
		}

		missing := v1.Group("/missing-products")
		{
			missing.POST("", handler.PostMissingProduct)
			missing.GET("", handler.GetMissingProducts)
		}
	}

	return router
}
