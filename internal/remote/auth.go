package remote

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetime and the margin before expiry at which a fresh token
// is minted. Tokens are deliberately short-lived; the service only
// needs them to outlive a single request.
const (
	tokenTTL           = 5 * time.Minute
	tokenRefreshMargin = 30 * time.Second
)

// tokenSource mints and caches HS256 bearer tokens signed with the
// gateway's client secret. A token is reused until it is within
// tokenRefreshMargin of expiry.
type tokenSource struct {
	clientID string
	secret   []byte

	mu      sync.Mutex
	token   string
	expires time.Time

	// now is swappable for tests.
	now func() time.Time
}

func newTokenSource(clientID, secret string) *tokenSource {
	return &tokenSource{
		clientID: clientID,
		secret:   []byte(secret),
		now:      time.Now,
	}
}

// Token returns a valid bearer token, minting a new one when the
// cached token is absent or close to expiry.
func (ts *tokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Before(ts.expires.Add(-tokenRefreshMargin)) {
		return ts.token, nil
	}

	expires := now.Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    ts.clientID,
		Subject:   ts.clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing gateway token: %w", err)
	}

	ts.token = signed
	ts.expires = expires
	return signed, nil
}
