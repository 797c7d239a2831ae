package api

import (
	v1 "github.com/flexprice/usageledger/internal/api/v1"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/rest/middleware"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Events *v1.EventsHandler
	Health *v1.HealthHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Logging.Level != types.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.RecoveryWithWriter(log.GetGinLogger()),
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(log),
		middleware.SentryMiddleware(cfg),
		middleware.SentryContextMiddleware,
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)

	v1Internal := router.Group("/v1/internal")
	v1Internal.Use(middleware.RateLimitMiddleware(cfg.API.RateLimit, cfg.API.Burst))
	{
		events := v1Internal.Group("/events")
		events.POST("", handlers.Events.ProcessEvents)
		events.POST("/publish", handlers.Events.PublishEvents)
	}

	return router
}
