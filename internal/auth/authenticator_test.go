package auth

import (
	"testing"
	"time"

	"github.com/streamspace/mcp-gateway/internal/gwerrors"
)

func newTestAuthenticator(expiry time.Duration) *Authenticator {
	return New(Config{SigningSecret: "test-secret-at-least-32-bytes!!", Issuer: "test-issuer", TokenExpiry: expiry})
}

func TestIssueThenVerifyRoundTrip(t *testing.T) {
	a := newTestAuthenticator(time.Hour)

	token, err := a.IssueToken("u1", "s1", []string{"read"})
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	claims, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken returned error: %v", err)
	}
	if claims.UserID != "u1" || claims.SessionID != "s1" || len(claims.Scope) != 1 || claims.Scope[0] != "read" {
		t.Fatalf("claims = %+v, want userId=u1 sessionId=s1 scope=[read]", claims)
	}
}

func TestIssueTokenDefaultsScope(t *testing.T) {
	a := newTestAuthenticator(time.Hour)

	token, err := a.IssueToken("u1", "s1", nil)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	claims, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken returned error: %v", err)
	}
	if len(claims.Scope) != len(DefaultScope) {
		t.Fatalf("scope = %v, want default %v", claims.Scope, DefaultScope)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	a := newTestAuthenticator(50 * time.Millisecond)

	token, err := a.IssueToken("u1", "s1", []string{"read"})
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	_, err = a.VerifyToken(token)
	if gwerrors.KindOf(err) != gwerrors.Expired {
		t.Fatalf("kind = %v, want Expired", gwerrors.KindOf(err))
	}
}

func TestVerifyTokenBadSignature(t *testing.T) {
	issuer := newTestAuthenticator(time.Hour)
	token, _ := issuer.IssueToken("u1", "s1", []string{"read"})

	other := New(Config{SigningSecret: "a-totally-different-secret-value", Issuer: "test-issuer", TokenExpiry: time.Hour})
	_, err := other.VerifyToken(token)
	if gwerrors.KindOf(err) != gwerrors.BadSignature {
		t.Fatalf("kind = %v, want BadSignature", gwerrors.KindOf(err))
	}
}

func TestVerifyTokenWrongIssuer(t *testing.T) {
	a := New(Config{SigningSecret: "test-secret-at-least-32-bytes!!", Issuer: "issuer-a", TokenExpiry: time.Hour})
	token, _ := a.IssueToken("u1", "s1", []string{"read"})

	b := New(Config{SigningSecret: "test-secret-at-least-32-bytes!!", Issuer: "issuer-b", TokenExpiry: time.Hour})
	_, err := b.VerifyToken(token)
	if gwerrors.KindOf(err) != gwerrors.WrongIssuer {
		t.Fatalf("kind = %v, want WrongIssuer", gwerrors.KindOf(err))
	}
}

func TestVerifyTokenExpiredAndWrongIssuerReportsIssuerFirst(t *testing.T) {
	// spec.md §4.4 orders issuer match before expiry, so a token that is
	// both expired and from the wrong issuer must report WrongIssuer.
	a := New(Config{SigningSecret: "test-secret-at-least-32-bytes!!", Issuer: "issuer-a", TokenExpiry: 50 * time.Millisecond})
	token, err := a.IssueToken("u1", "s1", []string{"read"})
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	b := New(Config{SigningSecret: "test-secret-at-least-32-bytes!!", Issuer: "issuer-b", TokenExpiry: time.Hour})
	_, err = b.VerifyToken(token)
	if gwerrors.KindOf(err) != gwerrors.WrongIssuer {
		t.Fatalf("kind = %v, want WrongIssuer (issuer must be checked before expiry)", gwerrors.KindOf(err))
	}
}

func TestVerifyTokenMalformed(t *testing.T) {
	a := newTestAuthenticator(time.Hour)
	_, err := a.VerifyToken("not-a-real-token")
	if gwerrors.KindOf(err) != gwerrors.Malformed {
		t.Fatalf("kind = %v, want Malformed", gwerrors.KindOf(err))
	}
}

func TestRefreshTokenPreservesClaims(t *testing.T) {
	a := newTestAuthenticator(time.Hour)
	token, _ := a.IssueToken("u1", "s1", []string{"read"})

	original, _ := a.VerifyToken(token)
	time.Sleep(1100 * time.Millisecond)

	refreshed, err := a.RefreshToken(token)
	if err != nil {
		t.Fatalf("RefreshToken returned error: %v", err)
	}

	newClaims, err := a.VerifyToken(refreshed)
	if err != nil {
		t.Fatalf("VerifyToken(refreshed) returned error: %v", err)
	}

	if newClaims.UserID != original.UserID || newClaims.SessionID != original.SessionID {
		t.Fatal("refresh must preserve userId and sessionId")
	}
	if len(newClaims.Scope) != len(original.Scope) || newClaims.Scope[0] != original.Scope[0] {
		t.Fatal("refresh must preserve scope exactly")
	}
	if !newClaims.IssuedAt.After(original.IssuedAt.Time) {
		t.Fatal("refresh must produce a strictly greater iat")
	}
}

func TestRefreshTokenRejectsExpired(t *testing.T) {
	a := newTestAuthenticator(50 * time.Millisecond)
	token, _ := a.IssueToken("u1", "s1", nil)

	time.Sleep(100 * time.Millisecond)

	_, err := a.RefreshToken(token)
	if gwerrors.KindOf(err) != gwerrors.Expired {
		t.Fatalf("kind = %v, want Expired", gwerrors.KindOf(err))
	}
}

func TestDecodeTokenNoSignatureCheck(t *testing.T) {
	a := newTestAuthenticator(time.Hour)
	token, _ := a.IssueToken("u1", "s1", []string{"read"})

	other := New(Config{SigningSecret: "irrelevant-because-decode-skips-sig", Issuer: "test-issuer", TokenExpiry: time.Hour})
	claims, err := other.DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("claims.UserID = %q, want u1", claims.UserID)
	}
}
