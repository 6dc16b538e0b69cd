package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/mcp-gateway/internal/logger"
)

// StructuredLoggerConfig controls what StructuredLogger logs per request.
type StructuredLoggerConfig struct {
	// SkipPaths are not logged at all (e.g. health checks).
	SkipPaths []string
}

// DefaultStructuredLoggerConfig skips the health check endpoint.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{SkipPaths: []string{"/healthz"}}
}

// StructuredLogger logs one structured line per HTTP request (method, path,
// status, latency, request id, client IP), at a level chosen by status code.
// Distinct from the gateway's audit ring (internal/audit): this is an
// operator-facing transport log, not a queryable security trail.
func StructuredLogger(cfg StructuredLoggerConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	log := logger.Gateway()

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", duration).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}
