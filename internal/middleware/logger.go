package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/autolog/logsentinel/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// CustomLoggerMiddleware logs one line per request and tags it with a request ID.
func CustomLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"request_id": requestID,
		}
		if sub, ok := c.Get("subject"); ok {
			fields["subject"] = sub
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("[API]", fields)
		case c.Writer.Status() >= 400:
			logger.Warn("[API]", fields)
		default:
			logger.Info("[API]", fields)
		}
	}
}
