package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"healthbridge-backend/pkg/constants"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

// TimeoutMiddleware bounds every request with a deadline so a slow
// backend cannot pin handler goroutines indefinitely
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware creates a timeout middleware; zero uses the default
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = constants.DefaultTimeout
	}
	return &TimeoutMiddleware{timeout: timeout}
}

// Middleware returns the Gin middleware handler
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), tm.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if ctx.Err() == context.DeadlineExceeded {
			metrics.RecordRequestTimeout(tm.timeout, duration, c.Request.Method, c.Request.URL.Path)
			logger.Warn("request timed out",
				zap.Duration("timeout", tm.timeout),
				zap.Duration("duration", duration),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
			)
			if !c.Writer.Written() {
				c.JSON(http.StatusGatewayTimeout, gin.H{
					"error": "Request timeout",
					"code":  "REQUEST_TIMEOUT",
				})
			}
			c.Abort()
			return
		}

		metrics.RecordRequestDuration(duration, c.Request.Method, c.Request.URL.Path, strconv.Itoa(c.Writer.Status()))
	}
}
