// Package middleware provides HTTP-layer adapters for the gateway's transport
// (spec.md §9 open question 1: an HTTP binding wraps the core, it is not part
// of it).
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID assigns each HTTP request the correlation ID that ties together
// its three separate records: the StructuredLogger access-log line, the
// cmd/gatewayd handler that forwards it into mcp.Request.Headers, and the
// gateway's own audit entry for the call (internal/gateway reads the same
// header name back out of those Headers). Without this, an operator looking
// at a suspicious audit entry has no way to find the HTTP request that
// produced it.
//
// The ID is written back onto the *inbound* request header, not just the
// response, specifically so a freshly-generated ID (the caller sent none)
// still reaches the rest of the request's handler chain and ends up in
// mcp.Request.Headers - not just echoed back to the client after the fact.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
			c.Request.Header.Set(RequestIDHeader, requestID)
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID retrieves the request ID set by RequestID, or "" if absent.
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
