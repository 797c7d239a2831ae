package middleware

import (
	"github.com/flexprice/usageledger/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDMiddleware puts the caller's X-Request-ID, or a fresh one, on the request
// context and echoes it in the response. An X-Org-ID header is carried the same way.
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx := types.SetRequestID(c.Request.Context(), requestID)
	if orgID := c.GetHeader(types.HeaderOrgID); orgID != "" {
		ctx = types.SetOrgID(ctx, orgID)
	}
	c.Request = c.Request.WithContext(ctx)
	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}
