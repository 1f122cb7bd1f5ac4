package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/assetingest/internal/logger"
)

// RequestIDHeader carries the request id. An incoming value is reused.
const RequestIDHeader = "X-Request-ID"

// LoggerMiddleware returns a Gin middleware that injects a request-scoped logger.
// Parameters:
//   - log: base logger to enrich with request fields.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := log.WithContext(c.Request.Context())
		ctx = logger.SetRequestID(ctx, requestID)
		ctx = logger.SetComponent(ctx, "api")
		if id := c.Param("id"); id != "" {
			ctx = logger.SetDatasetID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Set("logger", logger.FromContext(ctx))
		c.Header(RequestIDHeader, logger.GetRequestID(ctx))

		logger.CtxDebug(ctx, "Request started: method=%s, path=%s, client_ip=%s",
			c.Request.Method, path, c.ClientIP())

		c.Next()

		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}

		entry := logger.With(logger.Fields{
			logger.FieldStatus: c.Writer.Status(),
			logger.FieldSize:   c.Writer.Size(),
		}).WithDuration(time.Since(start).Milliseconds())
		if c.Writer.Status() >= 500 {
			entry.Error(ctx, "Request failed: method=%s, path=%s", c.Request.Method, fullPath)
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
	}
}

// GetLogger extracts logger from Gin context or request context.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get("logger"); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
