// Package gwerrors provides the typed error taxonomy used across the security
// gateway. Every failure path in the gateway resolves to exactly one Kind so
// callers (and tests) can branch on *what* failed without parsing message
// strings.
//
// Error Structure:
//   - Kind: machine-readable failure category (e.g. "Expired", "MissingScopes")
//   - Message: human-readable description, safe to surface to a caller
//   - Cause: optional wrapped error; its message is appended to Error()
//
// Usage patterns:
//
//	return gwerrors.New(gwerrors.Expired, "token has expired")
//	return gwerrors.Wrap(gwerrors.KeyringUnavailable, "keyring write failed", err)
//
//	if gwerrors.KindOf(err) == gwerrors.SessionExpired { ... }
package gwerrors

import "errors"

// Kind is a closed set of distinguishable failure categories. The gateway
// never returns a bare error for an auth/session/authorization/pipeline/
// storage/handler failure; it always resolves to one of these.
type Kind string

const (
	// Auth
	Malformed    Kind = "Malformed"
	BadSignature Kind = "BadSignature"
	WrongIssuer  Kind = "WrongIssuer"
	Expired      Kind = "Expired"
	PayloadShape Kind = "PayloadShape"
	AuthRequired Kind = "AuthRequired"

	// Session
	SessionNotFound Kind = "SessionNotFound"
	SessionExpired  Kind = "SessionExpired"

	// Authorization
	NoRuleForResource Kind = "NoRuleForResource"
	MissingScopes     Kind = "MissingScopes"
	PredicateDenied   Kind = "PredicateDenied"

	// Pipeline
	ToolNotFound        Kind = "ToolNotFound"
	RateLimitExceeded   Kind = "RateLimitExceeded"
	BlockedByMiddleware Kind = "BlockedByMiddleware"

	// Storage
	KeyringUnavailable Kind = "KeyringUnavailable"
	NotFound           Kind = "NotFound"

	// Handler
	HandlerFailed Kind = "HandlerFailed"
)

// GatewayError is the concrete error type returned by every core component.
// StatusCode mapping is deliberately absent: mapping a Kind to a transport's
// error code (HTTP status, JSON-RPC code, ...) is the transport's job, not
// the core's (spec §7).
type GatewayError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// New creates a GatewayError with no wrapped cause.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap creates a GatewayError that wraps an underlying cause. The cause is
// never included in Error()'s caller-facing portion beyond its own message;
// callers that need to hide internal detail should inspect Kind, not Error().
func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error produced anywhere in the gateway,
// unwrapping through fmt.Errorf("...: %w", err) layers. Returns "" if err is
// nil or was not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// Is reports whether err resolves to the given Kind. Convenience over
// KindOf(err) == kind for call sites that prefer the errors.Is idiom.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
