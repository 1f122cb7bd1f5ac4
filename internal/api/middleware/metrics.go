package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/assetingest/internal/metrics"
)

// Metrics counts requests by route template, so ids do not explode the
// label set.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.CounterHTTPRequests.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Inc()
	}
}
