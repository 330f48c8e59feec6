package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"autoloom/internal/logging"
)

// requestLogger writes one line per request to logger.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case status >= 500:
			logger.Error("%s %s -> %d (%v)", c.Request.Method, path, status, latency)
		case status >= 400:
			logger.Warn("%s %s -> %d (%v)", c.Request.Method, path, status, latency)
		default:
			logger.Debug("%s %s -> %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
