package upstream

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/saasbridge/gateway/internal/errors"
)

func TestJWTExpiry(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	got, ok := jwtExpiry(signed)
	require.True(t, ok)
	require.Equal(t, exp.Unix(), got.Unix())
}

func TestJWTExpiryRejectsOpaqueTokens(t *testing.T) {
	_, ok := jwtExpiry("ya29.a0AfH6SMBx")
	require.False(t, ok)

	_, ok = jwtExpiry("a.b.c")
	require.False(t, ok)
}

func TestTokenExpiryFallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Client{nowTime: func() time.Time { return now }}

	// expires_in present wins.
	explicit := now.Add(30 * time.Minute)
	require.Equal(t, explicit, c.tokenExpiry(&oauth2.Token{AccessToken: "opaque", Expiry: explicit}))

	// Opaque token without expiry falls back to the default lifetime.
	require.Equal(t, now.Add(fallbackTokenLifetime), c.tokenExpiry(&oauth2.Token{AccessToken: "opaque"}))
}

func TestValidateDomain(t *testing.T) {
	c := &Client{allowedDomain: "example.com"}

	require.NoError(t, c.validateDomain(&Identity{Email: "user@example.com"}, ""))
	require.NoError(t, c.validateDomain(&Identity{Email: "user@elsewhere.io"}, "example.com"))

	err := c.validateDomain(&Identity{Email: "user@elsewhere.io"}, "")
	require.ErrorIs(t, err, errors.ErrDomainNotAllowed)

	open := &Client{}
	require.NoError(t, open.validateDomain(&Identity{Email: "anyone@anywhere.dev"}, ""))
}

func TestClassifyOAuthError(t *testing.T) {
	revoked := classifyOAuthError(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}, "[test]")
	require.ErrorIs(t, revoked, errors.ErrRevoked)

	other := classifyOAuthError(&oauth2.RetrieveError{ErrorCode: "server_error"}, "[test]")
	require.NotErrorIs(t, other, errors.ErrRevoked)
}

func TestIdentityExpiresWithin(t *testing.T) {
	now := time.Now()
	id := &Identity{ExpiresAt: now.Add(10 * time.Minute)}

	require.False(t, id.ExpiresWithin(5*time.Minute, now))
	require.True(t, id.ExpiresWithin(10*time.Minute, now))
	require.True(t, id.ExpiresWithin(15*time.Minute, now))

	// Zero expiry means the provider never told us; treat as not expiring.
	require.False(t, (&Identity{}).ExpiresWithin(5*time.Minute, now))
}

func TestIdentityEmailDomain(t *testing.T) {
	require.Equal(t, "example.com", (&Identity{Email: "u@Example.COM"}).EmailDomain())
	require.Equal(t, "", (&Identity{Email: "no-at-sign"}).EmailDomain())
}
