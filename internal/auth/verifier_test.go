package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	v := NewJWTVerifier("secret")
	token := signToken(t, "secret", Claims{
		UserID:   "u1",
		Username: "ana",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "u1" || identity.Username != "ana" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerifySubjectFallback(t *testing.T) {
	v := NewJWTVerifier("secret")
	token := signToken(t, "secret", Claims{
		Username: "ana",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "u9" {
		t.Fatalf("expected subject fallback, got %q", identity.UserID)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewJWTVerifier("secret")
	token := signToken(t, "secret", Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewJWTVerifier("secret")

	wrongKey := signToken(t, "other-secret", Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	noneToken, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	missingUser := signToken(t, "secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not.a.token",
		"wrong key":  wrongKey,
		"alg none":   noneToken,
		"no user id": missingUser,
	} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	if got := TokenFromRequest("Bearer abc", "query"); got != "abc" {
		t.Fatalf("header token should win, got %q", got)
	}
	if got := TokenFromRequest("bearer abc", ""); got != "abc" {
		t.Fatalf("scheme match should be case insensitive, got %q", got)
	}
	if got := TokenFromRequest("Basic abc", "query"); got != "query" {
		t.Fatalf("non bearer header should fall back to query, got %q", got)
	}
	if got := TokenFromRequest("", " query "); got != "query" {
		t.Fatalf("query token should be trimmed, got %q", got)
	}
	if got := TokenFromRequest("", ""); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
