// Package gateway implements the SecureGateway pipeline (spec §4.7, C7):
// the component that composes TokenVault, AuditLogger, RateLimiter,
// Authenticator, SessionManager, and RequestVerifier around a tool
// registry and a user-extensible middleware chain.
//
// The control flow in HandleCallTool (resolve tool -> extract token ->
// verify token -> verify session -> rate-limit -> authorize -> middleware
// chain -> invoke handler -> audit) mirrors the pipeline ordering in the
// pack's MCP auth middleware (other_examples - AuthMiddleware.Middleware:
// health bypass -> token extraction -> validateJWT -> buildAuthContext ->
// rate limit -> context injection, then CheckToolAccess/LogToolCall around
// the handler), adapted to the exact nine steps spec.md §4.7 requires, with
// one tool_call audit entry per call.
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streamspace/mcp-gateway/internal/audit"
	"github.com/streamspace/mcp-gateway/internal/auth"
	"github.com/streamspace/mcp-gateway/internal/authz"
	"github.com/streamspace/mcp-gateway/internal/gwerrors"
	"github.com/streamspace/mcp-gateway/internal/logger"
	"github.com/streamspace/mcp-gateway/internal/mcp"
	"github.com/streamspace/mcp-gateway/internal/ratelimit"
	"github.com/streamspace/mcp-gateway/internal/session"
	"github.com/streamspace/mcp-gateway/internal/vault"
)

// requestIDHeader is the same key internal/middleware.RequestIDHeader
// carries on the HTTP side; the core doesn't import the transport package
// (the dependency runs the other way), so the header name is duplicated
// here rather than imported.
const requestIDHeader = "X-Request-ID"

// SecurityContext is handed to tool handlers and middleware: the verified
// caller identity plus read-through access to the vault (spec.md §3:
// "shared references handed to tool handlers ... are read-through").
type SecurityContext struct {
	Auth  authz.AuthContext
	Vault *vault.TokenVault
}

// ToolDefinition is the gateway's ToolDefinition (spec.md §3): an opaque
// handler registered by name, with optional scope/predicate-based
// authorization.
type ToolDefinition struct {
	Name            string
	Description     string
	InputSchema     interface{}
	RequiredScopes  []string
	CustomAuthCheck authz.Predicate
	Handler         func(params map[string]interface{}, sc SecurityContext) (interface{}, error)
}

// MiddlewareResult models "Continue(Request) or Block" as a tagged result
// rather than a nullable Request (spec.md §9 design notes), so a
// legitimate empty Request is never confused with a block signal.
type MiddlewareResult struct {
	request mcp.Request
	blocked bool
}

// Continue lets the request proceed, possibly transformed.
func Continue(req mcp.Request) MiddlewareResult {
	return MiddlewareResult{request: req}
}

// Block halts the pipeline with BlockedByMiddleware.
func Block() MiddlewareResult {
	return MiddlewareResult{blocked: true}
}

// Middleware inspects, transforms, or blocks a request after authentication
// and authorization (spec.md GLOSSARY).
type Middleware func(req mcp.Request, sc SecurityContext) MiddlewareResult

// RateLimitConfig is the fixed-window quota applied per userId (spec §6).
type RateLimitConfig struct {
	WindowMs    int64
	MaxRequests int
}

// VaultConfig configures the TokenVault (spec §6).
type VaultConfig struct {
	ServiceName      string
	FallbackToMemory bool
}

// AuditConfig configures the AuditLogger (spec §6).
type AuditConfig struct {
	MaxEntries int
	Sink       audit.Sink
}

// Config constructs a SecureGateway (spec §6).
type Config struct {
	Name    string
	Version string

	// SigningSecret is required; its absence is a fatal configuration
	// error (spec §7).
	SigningSecret string

	SessionExpiryMs    int64
	TokenExpirySeconds int64
	RateLimit          RateLimitConfig
	VaultConfig        VaultConfig
	AuditConfig        AuditConfig
}

// SecureGateway owns exactly one instance of each of C1-C6 plus the tool
// and middleware registries (spec.md §3: "No cyclic ownership exists").
type SecureGateway struct {
	name    string
	version string

	authenticator *auth.Authenticator
	sessions      *session.Manager
	limiter       *ratelimit.Limiter
	verifier      *authz.Verifier
	vault         *vault.TokenVault
	auditLog      *audit.Logger

	toolsMu sync.RWMutex
	tools   map[string]*ToolDefinition

	middlewaresMu sync.RWMutex
	middlewares   []Middleware

	// ruleCache tracks which *ToolDefinition pointer was last synced into
	// verifier for a given tool name, so step 7 only re-upserts the rule
	// when the registered definition actually changed (spec.md §9 Open
	// Question 3).
	ruleCache sync.Map
}

// New constructs a SecureGateway. Panics if SigningSecret is empty -
// configuration errors at construction time are fatal for the embedding
// process (spec §7).
func New(cfg Config) *SecureGateway {
	if cfg.SigningSecret == "" {
		panic("gateway: SigningSecret is required")
	}

	name := cfg.Name
	if name == "" {
		name = "mcp-security-gateway"
	}

	sessionExpiry := time.Hour
	if cfg.SessionExpiryMs > 0 {
		sessionExpiry = time.Duration(cfg.SessionExpiryMs) * time.Millisecond
	}
	tokenExpiry := time.Hour
	if cfg.TokenExpirySeconds > 0 {
		tokenExpiry = time.Duration(cfg.TokenExpirySeconds) * time.Second
	}

	vaultServiceName := cfg.VaultConfig.ServiceName
	if vaultServiceName == "" {
		vaultServiceName = name
	}

	g := &SecureGateway{
		name:    name,
		version: cfg.Version,

		authenticator: auth.New(auth.Config{
			SigningSecret: cfg.SigningSecret,
			Issuer:        name,
			TokenExpiry:   tokenExpiry,
		}),
		sessions: session.New(session.Config{DefaultExpiry: sessionExpiry}),
		limiter: ratelimit.New(ratelimit.Config{
			WindowMs:    cfg.RateLimit.WindowMs,
			MaxRequests: cfg.RateLimit.MaxRequests,
		}),
		verifier: authz.New(),
		vault: vault.New(vault.Config{
			ServiceName:      vaultServiceName,
			FallbackToMemory: cfg.VaultConfig.FallbackToMemory,
		}),
		auditLog: audit.New(audit.Config{
			MaxEntries: cfg.AuditConfig.MaxEntries,
			Sink:       cfg.AuditConfig.Sink,
		}),
		tools: make(map[string]*ToolDefinition),
	}

	logger.Gateway().Info().Str("name", name).Str("version", cfg.Version).Msg("gateway initialized")
	return g
}

// RegisterTool installs def, overwriting any existing registration under
// the same name.
func (g *SecureGateway) RegisterTool(def ToolDefinition) {
	g.toolsMu.Lock()
	defer g.toolsMu.Unlock()
	stored := def
	g.tools[def.Name] = &stored
}

// UnregisterTool removes the tool registered under name, returning whether
// one existed. Also drops any cached authorization rule for it.
func (g *SecureGateway) UnregisterTool(name string) bool {
	g.toolsMu.Lock()
	_, existed := g.tools[name]
	delete(g.tools, name)
	g.toolsMu.Unlock()

	if existed {
		g.verifier.RemoveRule(name)
		g.ruleCache.Delete(name)
	}
	return existed
}

// Use appends middleware to the ordered chain.
func (g *SecureGateway) Use(mw Middleware) {
	g.middlewaresMu.Lock()
	defer g.middlewaresMu.Unlock()
	g.middlewares = append(g.middlewares, mw)
}

// CreateSession composes C5 and C4: creates a session, issues a token over
// it, and emits a SessionCreated audit entry. An empty scope defaults to
// {read, write}.
func (g *SecureGateway) CreateSession(userID string, scope []string, metadata map[string]interface{}) (token string, sessionID string, err error) {
	sess := g.sessions.CreateSession(userID, metadata)

	token, err = g.authenticator.IssueToken(userID, sess.SessionID, scope)
	if err != nil {
		g.sessions.DestroySession(sess.SessionID)
		return "", "", err
	}

	g.auditLog.Log(audit.ActionSessionCreated, audit.Success,
		audit.WithUser(userID), audit.WithSession(sess.SessionID))

	return token, sess.SessionID, nil
}

// DestroySession delegates to C5 and emits SessionDestroyed on success.
func (g *SecureGateway) DestroySession(sessionID string) bool {
	destroyed := g.sessions.DestroySession(sessionID)
	if destroyed {
		g.auditLog.Log(audit.ActionSessionDestroyed, audit.Success, audit.WithSession(sessionID))
	}
	return destroyed
}

// HandleListTools returns every registered tool's public descriptor. No
// auth required by design (spec §6: "intended for discovery").
func (g *SecureGateway) HandleListTools() []mcp.ToolDescriptor {
	g.toolsMu.RLock()
	defer g.toolsMu.RUnlock()

	out := make([]mcp.ToolDescriptor, 0, len(g.tools))
	for _, def := range g.tools {
		out = append(out, mcp.ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return out
}

// HandleCallTool is the protocol-facing entry point implementing spec.md
// §4.7's nine-step state machine. Failure ordering is normative: the
// first failing step determines the returned error kind, and every call -
// success or failure - produces exactly one tool_call audit entry. Token
// verification, rate-limit denial and the authorization decision are also
// recorded under their own actions, so a call can add further entries.
func (g *SecureGateway) HandleCallTool(req mcp.Request) mcp.Response {
	// requestID correlates this call's tool_call audit entry with the HTTP access
	// log line the transport adapter emitted for the same request
	// (internal/middleware.RequestIDHeader carries the same value across
	// that boundary), so a security review can line up one record against
	// the other.
	requestID := req.Headers[requestIDHeader]

	// Step 1: resolve tool.
	name, _ := req.StringParam("name")
	g.toolsMu.RLock()
	def, found := g.tools[name]
	g.toolsMu.RUnlock()
	if !found {
		return g.fail(requestID, name, "", "", gwerrors.New(gwerrors.ToolNotFound, fmt.Sprintf("tool not found: %q", name)))
	}

	// Step 2: extract token.
	token, hasToken := req.StringParam("_token")
	if !hasToken || token == "" {
		return g.fail(requestID, name, "", "", gwerrors.New(gwerrors.AuthRequired, "missing bearer token"))
	}

	// Step 3: verify token. AuthSuccess/AuthFailure (spec §4.2) record the
	// token-verification outcome under its own action, alongside (not
	// instead of) the single tool_call entry fail()/the success path below
	// always produce for this call.
	claims, err := g.authenticator.VerifyToken(token)
	if err != nil {
		g.auditLog.AuthFailure(string(gwerrors.KindOf(err)))
		return g.fail(requestID, name, "", "", err)
	}
	g.auditLog.AuthSuccess(claims.UserID, claims.SessionID)

	// Step 4: verify session.
	if _, err := g.sessions.VerifySession(claims.SessionID); err != nil {
		return g.fail(requestID, name, claims.UserID, claims.SessionID, err)
	}

	// Step 5: construct AuthContext.
	authCtx := authz.AuthContext{UserID: claims.UserID, SessionID: claims.SessionID, Scope: claims.Scope}

	// Step 6: rate-limit keyed by userId.
	rl := g.limiter.CheckLimit(claims.UserID)
	if !rl.Allowed {
		g.auditLog.RateLimitExceeded(claims.UserID)
		return g.fail(requestID, name, authCtx.UserID, authCtx.SessionID, gwerrors.New(gwerrors.RateLimitExceeded, "rate limit exceeded"))
	}

	// Step 7: authorize, if the tool declares scopes or a custom check.
	// AuthorizationCheck (spec §4.2) records the decision under its own
	// authorization_succeeded/authorization_failed action, alongside the
	// call's single tool_call entry.
	if len(def.RequiredScopes) > 0 || def.CustomAuthCheck != nil {
		g.syncRule(name, def)
		decision := g.verifier.Verify(name, authCtx)
		g.auditLog.AuthorizationCheck(name, decision.Authorized,
			audit.WithUser(authCtx.UserID), audit.WithSession(authCtx.SessionID))
		if !decision.Authorized {
			return g.fail(requestID, name, authCtx.UserID, authCtx.SessionID, gwerrors.New(decision.Reason, "authorization denied"))
		}
	}

	// Step 8: middleware chain.
	arguments, _ := req.MapParam("arguments")
	current := mcp.Request{Method: name, Params: arguments}
	sc := SecurityContext{Auth: authCtx, Vault: g.vault}

	g.middlewaresMu.RLock()
	chain := make([]Middleware, len(g.middlewares))
	copy(chain, g.middlewares)
	g.middlewaresMu.RUnlock()

	for _, mw := range chain {
		result := mw(current, sc)
		if result.blocked {
			return g.fail(requestID, name, authCtx.UserID, authCtx.SessionID, gwerrors.New(gwerrors.BlockedByMiddleware, "blocked by middleware"))
		}
		current = result.request
	}

	// Step 9: invoke handler.
	result, handlerErr := def.Handler(current.Params, sc)
	if handlerErr != nil {
		wrapped := gwerrors.Wrap(gwerrors.HandlerFailed, "tool handler failed", handlerErr)
		g.auditLog.Log(audit.ActionToolCall, audit.Error,
			audit.WithUser(authCtx.UserID), audit.WithSession(authCtx.SessionID), audit.WithResource(name),
			audit.WithMetadata(map[string]interface{}{"kind": string(gwerrors.HandlerFailed), "error": handlerErr.Error(), "requestId": requestID}))
		return errorResponse(wrapped)
	}

	g.auditLog.Log(audit.ActionToolCall, audit.Success,
		audit.WithUser(authCtx.UserID), audit.WithSession(authCtx.SessionID), audit.WithResource(name),
		audit.WithMetadata(map[string]interface{}{"requestId": requestID}))

	return mcp.Response{Result: renderToolResult(result)}
}

// Stop cancels the background sweepers and clears the session table
// (spec §5). The vault and audit ring hold no unmanaged resources and are
// left as-is.
func (g *SecureGateway) Stop() {
	g.limiter.Destroy()
	g.sessions.Destroy()
	logger.Gateway().Info().Str("name", g.name).Msg("gateway stopped")
}

// Audit exposes the gateway's AuditLogger for query/inspection (Recent,
// ByUser, Export, ...). It returns the live Logger itself, so its Log and
// Clear methods are reachable through it as well.
func (g *SecureGateway) Audit() *audit.Logger {
	return g.auditLog
}

// syncRule upserts the authorization rule for name only when def's pointer
// identity differs from what was last synced, satisfying spec.md §9 Open
// Question 3 without re-registering on every call.
func (g *SecureGateway) syncRule(name string, def *ToolDefinition) {
	if cached, ok := g.ruleCache.Load(name); ok && cached.(*ToolDefinition) == def {
		return
	}
	g.verifier.AddRule(authz.Rule{
		Resource:       name,
		RequiredScopes: def.RequiredScopes,
		Predicate:      def.CustomAuthCheck,
	})
	g.ruleCache.Store(name, def)
}

// fail records the single tool_call audit entry for a failed HandleCallTool
// and builds its Response.
func (g *SecureGateway) fail(requestID, resource, userID, sessionID string, err error) mcp.Response {
	kind := gwerrors.KindOf(err)
	g.auditLog.Log(audit.ActionToolCall, audit.Failure,
		audit.WithUser(userID), audit.WithSession(sessionID), audit.WithResource(resource),
		audit.WithMetadata(map[string]interface{}{"kind": string(kind), "requestId": requestID}))
	logger.Gateway().Debug().Str("resource", resource).Str("kind", string(kind)).Str("requestId", requestID).Msg("tool call denied")
	return errorResponse(err)
}

func errorResponse(err error) mcp.Response {
	kind := gwerrors.KindOf(err)
	return mcp.Response{
		Error: &mcp.ResponseError{
			Code:    string(kind),
			Message: err.Error(),
		},
	}
}

// renderToolResult renders a handler's return value as a text content
// block (spec.md §4.7 step 9).
func renderToolResult(result interface{}) mcp.ToolResult {
	if s, ok := result.(string); ok {
		return mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("%v", result)}}}
	}
	return mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: string(data)}}}
}
