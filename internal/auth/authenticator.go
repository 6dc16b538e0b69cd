// Package auth implements the gateway's bearer-token authenticator
// (spec §4.4, C4): issuing and verifying signed tokens carrying
// (userId, sessionId, scope, iat, exp, iss).
//
// Grounded on the teacher's internal/auth/jwt.go (golang-jwt/jwt/v5,
// HMAC-SHA256, explicit signing-method check to block algorithm
// substitution), trimmed to the claim set spec.md §3 defines and to the
// five distinguishable verification failures spec.md §4.4/§7 requires
// instead of the teacher's single catch-all validation error.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/streamspace/mcp-gateway/internal/gwerrors"
)

// DefaultScope is applied to IssueToken and CreateSession when the caller
// supplies no scope (spec §4.4, §4.7).
var DefaultScope = []string{"read", "write"}

// Claims is the wire-visible claim set inside the bearer token (spec.md §3,
// TokenPayload).
type Claims struct {
	UserID    string   `json:"userId"`
	SessionID string   `json:"sessionId"`
	Scope     []string `json:"scope"`
	jwt.RegisteredClaims
}

// Config configures an Authenticator.
type Config struct {
	// SigningSecret is the HMAC key. Required.
	SigningSecret string

	// Issuer is stamped into iss and checked on verification. Defaults to
	// "mcp-security-gateway".
	Issuer string

	// TokenExpiry is exp - iat. Defaults to 1 hour (spec §6).
	TokenExpiry time.Duration
}

// Authenticator issues and verifies signed bearer tokens over a symmetric
// secret (spec §4.4). Immutable after construction; safe for concurrent
// use.
type Authenticator struct {
	secret      []byte
	issuer      string
	tokenExpiry time.Duration
}

// New creates an Authenticator. Panics if SigningSecret is empty -
// configuration errors at construction time are fatal for the embedding
// process (spec §7).
func New(cfg Config) *Authenticator {
	if cfg.SigningSecret == "" {
		panic("auth: SigningSecret is required")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "mcp-security-gateway"
	}
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Authenticator{
		secret:      []byte(cfg.SigningSecret),
		issuer:      issuer,
		tokenExpiry: expiry,
	}
}

// IssueToken stamps iat=now, exp=now+tokenExpiry, iss=configured issuer and
// returns a compact signed token. An empty scope defaults to DefaultScope.
func (a *Authenticator) IssueToken(userID, sessionID string, scope []string) (string, error) {
	if len(scope) == 0 {
		scope = DefaultScope
	}
	now := time.Now()

	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.Malformed, "failed to sign token", err)
	}
	return signed, nil
}

// VerifyToken validates tokenString in the exact order spec.md §4.4
// mandates: syntactic decode -> signature -> issuer match -> expiry ->
// payload shape. golang-jwt/jwt/v5's ParseWithClaims validates signature
// and time-based claims (exp/nbf/iat) together in one pass, which would
// report Expired before ever reaching the issuer check - wrong for a token
// that is both expired and carries the wrong issuer. WithoutClaimsValidation
// is used here to get decode+signature only, and expiry is then checked
// by hand after the issuer, so the ordering matches the spec exactly.
func (a *Authenticator) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject alg substitution: only HMAC is an acceptable signing
		// method for a token this authenticator issued.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, gwerrors.New(gwerrors.BadSignature, "unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithoutClaimsValidation())

	if err != nil {
		var sigErr *gwerrors.GatewayError
		switch {
		case errors.As(err, &sigErr) && sigErr.Kind == gwerrors.BadSignature:
			return nil, sigErr
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, gwerrors.Wrap(gwerrors.BadSignature, "token signature is invalid", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, gwerrors.Wrap(gwerrors.Malformed, "token is malformed", err)
		default:
			return nil, gwerrors.Wrap(gwerrors.Malformed, "token could not be parsed", err)
		}
	}

	if !token.Valid {
		return nil, gwerrors.New(gwerrors.Malformed, "token failed validation")
	}

	if claims.Issuer != a.issuer {
		return nil, gwerrors.New(gwerrors.WrongIssuer, "token issuer does not match")
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, gwerrors.New(gwerrors.Expired, "token has expired")
	}

	if claims.UserID == "" || claims.SessionID == "" || len(claims.Scope) == 0 {
		return nil, gwerrors.New(gwerrors.PayloadShape, "token payload missing required fields")
	}

	return claims, nil
}

// DecodeToken parses tokenString's claims without checking the signature.
// For diagnostics only - never use the result for an authorization
// decision.
func (a *Authenticator) DecodeToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Malformed, "token could not be decoded", err)
	}
	return claims, nil
}

// RefreshToken verifies token, then re-issues with identical claims and a
// fresh iat/exp. Returns an error if the source token fails verification
// (including expiry). Takes no scope parameter: refresh preserves the
// original scope exactly, closing off any path to widen privileges through
// refresh (spec.md §9 Open Question 2).
func (a *Authenticator) RefreshToken(tokenString string) (string, error) {
	claims, err := a.VerifyToken(tokenString)
	if err != nil {
		return "", err
	}
	return a.IssueToken(claims.UserID, claims.SessionID, claims.Scope)
}
