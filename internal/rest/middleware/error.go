package middleware

import (
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error attached with c.Error as an ErrorResponse.
// It must run before the handlers so it sees their errors after c.Next.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
	}
}
