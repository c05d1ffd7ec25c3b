package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/pkg/response"
)

// HeaderRequestID carries the request correlation id in and out.
const HeaderRequestID = "X-Request-ID"

// ContextRequestID is the key for the request correlation id in gin context.
const ContextRequestID = response.RequestIDKey

// Logger returns a zap-based request logging middleware. It also assigns a request id,
// reusing an inbound X-Request-ID when present.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		clientIP := c.ClientIP()
		method := c.Request.Method
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
			zap.String("request_id", requestID),
		)
	}
}

// RequestID returns the id assigned by Logger, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}
