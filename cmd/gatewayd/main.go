package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/mcp-gateway/internal/audit"
	"github.com/streamspace/mcp-gateway/internal/gateway"
	"github.com/streamspace/mcp-gateway/internal/gwerrors"
	"github.com/streamspace/mcp-gateway/internal/logger"
	"github.com/streamspace/mcp-gateway/internal/mcp"
	"github.com/streamspace/mcp-gateway/internal/middleware"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	port := getEnv("GATEWAY_PORT", "8443")

	signingSecret := os.Getenv("GATEWAY_SIGNING_SECRET")
	if signingSecret == "" {
		log.Fatal().Msg("GATEWAY_SIGNING_SECRET must be set. Generate with: openssl rand -base64 32")
	}
	if len(signingSecret) < 32 {
		log.Fatal().Msg("GATEWAY_SIGNING_SECRET must be at least 32 characters long")
	}

	sessionExpiryMs := int64(getEnvInt("GATEWAY_SESSION_EXPIRY_MS", 0))
	tokenExpirySeconds := int64(getEnvInt("GATEWAY_TOKEN_EXPIRY_SECONDS", 0))
	rateLimitWindowMs := int64(getEnvInt("GATEWAY_RATE_LIMIT_WINDOW_MS", 60000))
	rateLimitMaxRequests := getEnvInt("GATEWAY_RATE_LIMIT_MAX_REQUESTS", 100)
	vaultServiceName := getEnv("GATEWAY_VAULT_SERVICE_NAME", "")
	vaultFallbackToMemory := getEnv("GATEWAY_VAULT_FALLBACK_TO_MEMORY", "true") == "true"
	auditMaxEntries := getEnvInt("GATEWAY_AUDIT_MAX_ENTRIES", 10000)

	var sink audit.Sink
	if getEnv("GATEWAY_AUDIT_REDIS_ENABLED", "false") == "true" {
		redisSink, err := audit.NewRedisAuditSink(audit.RedisSinkConfig{
			Host:               getEnv("GATEWAY_AUDIT_REDIS_HOST", "localhost"),
			Port:               getEnv("GATEWAY_AUDIT_REDIS_PORT", "6379"),
			Password:           os.Getenv("GATEWAY_AUDIT_REDIS_PASSWORD"),
			DB:                 getEnvInt("GATEWAY_AUDIT_REDIS_DB", 0),
			Key:                getEnv("GATEWAY_AUDIT_REDIS_KEY", ""),
			TTL:                parseDurationOr(getEnv("GATEWAY_AUDIT_REDIS_TTL", ""), 0),
			MaxPushesPerSecond: float64(getEnvInt("GATEWAY_AUDIT_REDIS_MAX_PUSHES_PER_SECOND", 0)),
		})
		if err != nil {
			log.Warn().Err(err).Msg("audit Redis sink unavailable, continuing with in-memory ring only")
		} else {
			sink = redisSink
			if hmacSecret := os.Getenv("GATEWAY_AUDIT_HMAC_SECRET"); hmacSecret != "" {
				sink = audit.NewHMACSink(hmacSecret, sink)
				log.Info().Msg("audit sink entries will be HMAC-signed before forwarding")
			}
			log.Info().Msg("audit Redis sink enabled")
		}
	}

	gw := gateway.New(gateway.Config{
		Name:               getEnv("GATEWAY_NAME", "mcp-security-gateway"),
		Version:            getEnv("GATEWAY_VERSION", "dev"),
		SigningSecret:      signingSecret,
		SessionExpiryMs:    sessionExpiryMs,
		TokenExpirySeconds: tokenExpirySeconds,
		RateLimit: gateway.RateLimitConfig{
			WindowMs:    rateLimitWindowMs,
			MaxRequests: rateLimitMaxRequests,
		},
		VaultConfig: gateway.VaultConfig{
			ServiceName:      vaultServiceName,
			FallbackToMemory: vaultFallbackToMemory,
		},
		AuditConfig: gateway.AuditConfig{
			MaxEntries: auditMaxEntries,
			Sink:       sink,
		},
	})
	registerSampleTools(gw)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLogger(middleware.DefaultStructuredLoggerConfig()))
	router.Use(corsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Session issuance is unauthenticated (it's how a caller obtains the
	// token in the first place), so it gets its own IP rate limit ahead of
	// C3, which only ever sees already-authenticated userIds.
	sessionLimiter := middleware.NewIPRateLimiter(
		float64(getEnvInt("GATEWAY_SESSION_RATE_LIMIT_PER_SECOND", 5)), 10)

	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", sessionLimiter.Middleware(), func(c *gin.Context) {
			var body struct {
				UserID   string                 `json:"userId" binding:"required"`
				Scope    []string               `json:"scope"`
				Metadata map[string]interface{} `json:"metadata"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			token, sessionID, err := gw.CreateSession(body.UserID, body.Scope, body.Metadata)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"token": token, "sessionId": sessionID})
		})

		v1.DELETE("/sessions/:id", func(c *gin.Context) {
			if !gw.DestroySession(c.Param("id")) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.Status(http.StatusNoContent)
		})

		v1.GET("/tools", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"tools": gw.HandleListTools()})
		})

		// Bearer token is read off the HTTP header and carried into
		// MCP params["_token"] here: the core pipeline is transport-agnostic
		// and only ever looks at params (SPEC_FULL.md open question 1).
		v1.POST("/tools/call", func(c *gin.Context) {
			var body struct {
				Name      string                 `json:"name" binding:"required"`
				Arguments map[string]interface{} `json:"arguments"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			token := bearerToken(c.GetHeader("Authorization"))
			resp := gw.HandleCallTool(mcp.Request{
				Method: "tools/call",
				Params: map[string]interface{}{
					"name":      body.Name,
					"arguments": body.Arguments,
					"_token":    token,
				},
				Headers: flattenHeaders(c.Request.Header),
			})

			c.JSON(statusForResponse(resp), resp)
		})
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", port).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownTimeout := parseDurationOr(os.Getenv("GATEWAY_SHUTDOWN_TIMEOUT"), 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	gw.Stop()
	log.Info().Msg("shutdown complete")
}

// registerSampleTools wires one illustrative tool so a freshly started
// gateway has something to list/call; concrete tool implementations are out
// of scope (spec.md §1 Non-goals), this exists only to exercise the pipeline.
func registerSampleTools(gw *gateway.SecureGateway) {
	gw.RegisterTool(gateway.ToolDefinition{
		Name:           "echo",
		Description:    "echoes its arguments back to the caller",
		RequiredScopes: []string{"read"},
		Handler: func(params map[string]interface{}, sc gateway.SecurityContext) (interface{}, error) {
			return params, nil
		},
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}

// flattenHeaders copies h into a plain map for mcp.Request.Headers. Go's
// http.Header stores canonicalized keys (textproto.CanonicalMIMEHeaderKey,
// e.g. "X-Request-Id" rather than "X-Request-ID"), so the gateway's own
// requestIDHeader lookup is re-keyed here to the exact casing it expects -
// HTTP header names are case-insensitive on the wire, but a plain map
// lookup on the other side of this boundary is not.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	if v := h.Get(middleware.RequestIDHeader); v != "" {
		out[middleware.RequestIDHeader] = v
	}
	return out
}

func statusForResponse(resp mcp.Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch gwerrors.Kind(resp.Error.Code) {
	case gwerrors.AuthRequired, gwerrors.Malformed, gwerrors.BadSignature, gwerrors.WrongIssuer, gwerrors.Expired, gwerrors.PayloadShape:
		return http.StatusUnauthorized
	case gwerrors.MissingScopes, gwerrors.PredicateDenied, gwerrors.NoRuleForResource, gwerrors.BlockedByMiddleware:
		return http.StatusForbidden
	case gwerrors.ToolNotFound, gwerrors.SessionNotFound:
		return http.StatusNotFound
	case gwerrors.SessionExpired:
		return http.StatusUnauthorized
	case gwerrors.RateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func corsMiddleware() gin.HandlerFunc {
	allowedOriginsEnv := getEnv("GATEWAY_CORS_ALLOWED_ORIGINS", "")
	var allowedOrigins []string
	if allowedOriginsEnv != "" {
		for _, origin := range strings.Split(allowedOriginsEnv, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(origin))
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
				break
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseDurationOr(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
