package middleware

import (
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond rps requests per second with bursts of
// burst. A non-positive rps disables the limit.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			_ = c.Error(ierr.NewError("rate limit exceeded").
				WithHint("Too many requests, please retry later").
				Mark(ierr.ErrTooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
