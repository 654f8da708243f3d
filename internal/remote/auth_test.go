package remote

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenClaims(t *testing.T) {
	ts := newTokenSource("gw-client", "test-secret")
	now := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	signed, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(_ *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("parsing minted token: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("minted token is not valid")
	}
	if claims.Subject != "gw-client" || claims.Issuer != "gw-client" {
		t.Errorf("claims sub=%q iss=%q, want gw-client for both", claims.Subject, claims.Issuer)
	}
	if got := claims.ExpiresAt.Time; !got.Equal(now.Add(tokenTTL)) {
		t.Errorf("exp = %v, want %v", got, now.Add(tokenTTL))
	}
}

func TestTokenReuseUntilNearExpiry(t *testing.T) {
	ts := newTokenSource("gw-client", "test-secret")
	now := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	first, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// Well before the refresh margin: the cached token is reused.
	now = now.Add(tokenTTL / 2)
	second, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if second != first {
		t.Error("token was reminted while still fresh")
	}

	// Inside the refresh margin: a new token is minted.
	now = now.Add(tokenTTL/2 - tokenRefreshMargin/2)
	third, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if third == first {
		t.Error("token was not reminted near expiry")
	}
}
