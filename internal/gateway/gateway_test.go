package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/mcp-gateway/internal/audit"
	"github.com/streamspace/mcp-gateway/internal/authz"
	"github.com/streamspace/mcp-gateway/internal/gwerrors"
	"github.com/streamspace/mcp-gateway/internal/mcp"
)

func newTestGateway(t *testing.T) *SecureGateway {
	t.Helper()
	g := New(Config{
		SigningSecret: "test-secret-at-least-32-bytes!!",
		RateLimit:     RateLimitConfig{WindowMs: 60000, MaxRequests: 100},
		AuditConfig:   AuditConfig{MaxEntries: 1000},
	})
	t.Cleanup(g.Stop)
	return g
}

func echoTool(requiredScopes []string) ToolDefinition {
	return ToolDefinition{
		Name:           "t",
		Description:    "echoes its x argument",
		RequiredScopes: requiredScopes,
		Handler: func(params map[string]interface{}, sc SecurityContext) (interface{}, error) {
			return params, nil
		},
	}
}

func TestHappyPath(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(echoTool([]string{"read"}))

	token, sessionID, err := g.CreateSession("u1", []string{"read"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{
			"name":      "t",
			"_token":    token,
			"arguments": map[string]interface{}{"x": float64(1)},
		},
	})

	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	entries := g.Audit().ByAction(audit.ActionToolCall, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.Success, entries[0].Result)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.Equal(t, "t", entries[0].Resource)

	tokenEntries := g.Audit().ByAction(audit.ActionTokenVerified, 10)
	require.Len(t, tokenEntries, 1)
	assert.Equal(t, audit.Success, tokenEntries[0].Result)
	assert.Equal(t, "u1", tokenEntries[0].UserID)

	authzEntries := g.Audit().ByAction(audit.ActionAuthorizationSucceed, 10)
	require.Len(t, authzEntries, 1)
	assert.Equal(t, audit.Success, authzEntries[0].Result)
	assert.Equal(t, "t", authzEntries[0].Resource)
}

func TestRequestIDCorrelatesIntoAuditEntry(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(echoTool([]string{"read"}))

	token, _, err := g.CreateSession("u1", []string{"read"}, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(mcp.Request{
		Headers: map[string]string{"X-Request-ID": "req-123"},
		Params: map[string]interface{}{
			"name":      "t",
			"_token":    token,
			"arguments": map[string]interface{}{},
		},
	})

	require.Nil(t, resp.Error)

	entries := g.Audit().ByAction(audit.ActionToolCall, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].Metadata["requestId"])
}

func TestExpiredToken(t *testing.T) {
	g := New(Config{
		SigningSecret:      "test-secret-at-least-32-bytes!!",
		TokenExpirySeconds: 1,
		RateLimit:          RateLimitConfig{WindowMs: 60000, MaxRequests: 100},
		AuditConfig:        AuditConfig{MaxEntries: 1000},
	})
	t.Cleanup(g.Stop)
	g.RegisterTool(echoTool(nil))

	token, _, err := g.CreateSession("u1", []string{"read"}, nil)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "t", "_token": token, "arguments": map[string]interface{}{}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.Expired), resp.Error.Code)

	entries := g.Audit().ByAction(audit.ActionToolCall, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.Failure, entries[0].Result)

	invalidEntries := g.Audit().ByAction(audit.ActionTokenInvalid, 10)
	require.Len(t, invalidEntries, 1)
	assert.Equal(t, audit.Failure, invalidEntries[0].Result)
	assert.Equal(t, string(gwerrors.Expired), invalidEntries[0].Metadata["reason"])
}

func TestMissingScope(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(echoTool([]string{"write"}))

	token, _, err := g.CreateSession("u1", []string{"read"}, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "t", "_token": token, "arguments": map[string]interface{}{}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.MissingScopes), resp.Error.Code)

	entries := g.Audit().ByAction(audit.ActionToolCall, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.Failure, entries[0].Result)
	assert.Equal(t, "t", entries[0].Resource)

	authzEntries := g.Audit().ByAction(audit.ActionAuthorizationFailed, 10)
	require.Len(t, authzEntries, 1)
	assert.Equal(t, audit.Failure, authzEntries[0].Result)
	assert.Equal(t, "t", authzEntries[0].Resource)
	assert.Equal(t, "u1", authzEntries[0].UserID)
}

func TestRateLimitExceeded(t *testing.T) {
	g := New(Config{
		SigningSecret: "test-secret-at-least-32-bytes!!",
		RateLimit:     RateLimitConfig{WindowMs: 1000, MaxRequests: 3},
		AuditConfig:   AuditConfig{MaxEntries: 1000},
	})
	t.Cleanup(g.Stop)
	g.RegisterTool(echoTool(nil))

	token, _, err := g.CreateSession("u1", nil, nil)
	require.NoError(t, err)

	call := func() mcp.Response {
		return g.HandleCallTool(mcp.Request{
			Params: map[string]interface{}{"name": "t", "_token": token, "arguments": map[string]interface{}{}},
		})
	}

	for i := 0; i < 3; i++ {
		resp := call()
		require.Nil(t, resp.Error, "call %d should succeed", i+1)
	}

	fourth := call()
	require.NotNil(t, fourth.Error)
	assert.Equal(t, string(gwerrors.RateLimitExceeded), fourth.Error.Code)

	time.Sleep(1100 * time.Millisecond)

	fifth := call()
	require.Nil(t, fifth.Error, "call after window elapsed should succeed")
}

func TestToolNotFound(t *testing.T) {
	g := newTestGateway(t)

	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "nope", "_token": "irrelevant"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.ToolNotFound), resp.Error.Code)
}

func TestAuthRequired(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(echoTool(nil))

	resp := g.HandleCallTool(mcp.Request{Params: map[string]interface{}{"name": "t"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.AuthRequired), resp.Error.Code)
}

func TestHandlerFailureSurfacesAsHandlerFailed(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(ToolDefinition{
		Name: "boom",
		Handler: func(params map[string]interface{}, sc SecurityContext) (interface{}, error) {
			return nil, errors.New("handler blew up")
		},
	})

	token, _, _ := g.CreateSession("u1", nil, nil)
	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "boom", "_token": token, "arguments": map[string]interface{}{}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.HandlerFailed), resp.Error.Code)
}

func TestMiddlewareCanBlock(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(echoTool(nil))
	g.Use(func(req mcp.Request, sc SecurityContext) MiddlewareResult {
		return Block()
	})

	token, _, _ := g.CreateSession("u1", nil, nil)
	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "t", "_token": token, "arguments": map[string]interface{}{}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.BlockedByMiddleware), resp.Error.Code)
}

func TestMiddlewareCanTransformRequest(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(ToolDefinition{
		Name: "t",
		Handler: func(params map[string]interface{}, sc SecurityContext) (interface{}, error) {
			return params["injected"], nil
		},
	})
	g.Use(func(req mcp.Request, sc SecurityContext) MiddlewareResult {
		if req.Params == nil {
			req.Params = map[string]interface{}{}
		}
		req.Params["injected"] = "yes"
		return Continue(req)
	})

	token, _, _ := g.CreateSession("u1", nil, nil)
	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "t", "_token": token, "arguments": map[string]interface{}{}},
	})

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(mcp.ToolResult)
	require.True(t, ok)
	assert.Contains(t, result.Content[0].Text, "yes")
}

func TestRegisterToolOverwritesByName(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(ToolDefinition{Name: "t", Description: "first"})
	g.RegisterTool(ToolDefinition{Name: "t", Description: "second"})

	tools := g.HandleListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "second", tools[0].Description)
}

func TestUnregisterTool(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(echoTool(nil))

	require.True(t, g.UnregisterTool("t"))
	require.False(t, g.UnregisterTool("t"))
	require.Empty(t, g.HandleListTools())
}

func TestDestroySessionIdempotent(t *testing.T) {
	g := newTestGateway(t)
	_, sessionID, _ := g.CreateSession("u1", nil, nil)

	require.True(t, g.DestroySession(sessionID))
	require.False(t, g.DestroySession(sessionID))
}

func TestCustomAuthCheckPredicate(t *testing.T) {
	g := newTestGateway(t)
	g.RegisterTool(ToolDefinition{
		Name:            "admin-only",
		CustomAuthCheck: func(ctx authz.AuthContext) bool { return ctx.UserID == "admin" },
		Handler: func(params map[string]interface{}, sc SecurityContext) (interface{}, error) {
			return "ok", nil
		},
	})

	token, _, _ := g.CreateSession("regular-user", nil, nil)
	resp := g.HandleCallTool(mcp.Request{
		Params: map[string]interface{}{"name": "admin-only", "_token": token, "arguments": map[string]interface{}{}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, string(gwerrors.PredicateDenied), resp.Error.Code)
}
