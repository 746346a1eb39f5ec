package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pcheng/pixsearch/internal/logger"
)

// Logger returns a Gin middleware that injects a request-scoped logger.
// Every request gets a request_id that follows the call chain and is
// echoed back in the X-Request-ID response header.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := logger.WithFields(c.Request.Context(), logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(start)
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}

		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: latency.Milliseconds(),
		}).Infof("Request completed: method=%s, path=%s, client_ip=%s",
			c.Request.Method, fullPath, c.ClientIP())
	}
}
