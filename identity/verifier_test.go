package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	testProject = "taskboard-test"
	testSecret  = "test-secret"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	logger, _ := test.NewNullLogger()
	v, err := NewVerifier(VerifierConfig{ProjectID: testProject, LocalMode: "HS256", LocalSecret: testSecret}, logger)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":       "user-123",
		"aud":       testProject,
		"iss":       "https://securetoken.google.com/" + testProject,
		"exp":       now.Add(5 * time.Minute).Unix(),
		"iat":       now.Add(-time.Minute).Unix(),
		"auth_time": now.Add(-time.Minute).Unix(),
		"email":     "ada@example.com",
		"name":      "Ada Lovelace",
		"picture":   "https://img.example.com/ada.png",
	}
}

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerifyTokenHS256(t *testing.T) {
	v := newTestVerifier(t)

	p, err := v.VerifyToken(context.Background(), sign(t, validClaims(), testSecret))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if p.UID != "user-123" || p.Email != "ada@example.com" || p.Name != "Ada Lovelace" || p.Picture == "" {
		t.Fatalf("unexpected principal: %#v", p)
	}
	if p.Claims["auth_time"] == nil {
		t.Fatal("expected raw claims on principal")
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		secret string
	}{
		{name: "wrong secret", mutate: func(jwt.MapClaims) {}, secret: "other"},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-2 * time.Minute).Unix() }},
		{name: "no expiry", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "other-project" }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://securetoken.google.com/other" }},
		{name: "missing sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "future auth time", mutate: func(c jwt.MapClaims) { c["auth_time"] = time.Now().Add(time.Hour).Unix() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			secret := tt.secret
			if secret == "" {
				secret = testSecret
			}
			_, err := v.VerifyToken(context.Background(), sign(t, claims, secret))
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected invalid token, got %v", err)
			}
		})
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	v := newTestVerifier(t)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := v.VerifyToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected invalid token, got %v", token, err)
		}
	}
}

func TestVerifyTokenRejectsUnsignedTokens(t *testing.T) {
	v := newTestVerifier(t)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.VerifyToken(context.Background(), signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unsigned token to be rejected, got %v", err)
	}
}

func TestNewVerifierLocalModeValidation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	if _, err := NewVerifier(VerifierConfig{LocalMode: "hs256"}, logger); err == nil {
		t.Fatal("expected error for missing shared secret")
	}
	if _, err := NewVerifier(VerifierConfig{LocalMode: "rot13", LocalSecret: "x"}, logger); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestKeyForTokenWithoutJWKS(t *testing.T) {
	v := &Verifier{keyCacheTTL: time.Minute}
	if _, err := v.keyForToken(&jwt.Token{Header: map[string]any{"kid": "k1"}}); err == nil {
		t.Fatal("expected error without jwks")
	}
}

func TestKeyForTokenUsesCache(t *testing.T) {
	v := &Verifier{keyCacheTTL: time.Minute}
	v.keyCache.Store("k1", cachedKey{key: "cached-key", expiresAt: time.Now().Add(time.Minute)})

	key, err := v.keyForToken(&jwt.Token{Header: map[string]any{"kid": "k1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "cached-key" {
		t.Fatalf("unexpected key: %v", key)
	}
}
