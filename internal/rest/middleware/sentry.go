package middleware

import (
	"time"

	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/types"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware returns a middleware that captures errors and performance data
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// SentryContextMiddleware tags the Sentry scope with the request and org ids. Add it
// after RequestIDMiddleware.
func SentryContextMiddleware(c *gin.Context) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		c.Next()
		return
	}
	ctx := c.Request.Context()
	if requestID := types.GetRequestID(ctx); requestID != "" {
		hub.Scope().SetTag("request_id", requestID)
	}
	if orgID := types.GetOrgID(ctx); orgID != "" {
		hub.Scope().SetTag("org_id", orgID)
	}
	c.Next()
}
