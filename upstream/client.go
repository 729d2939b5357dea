// Package upstream implements the OAuth client side of the double hop: the
// gateway authenticating the user against the identity provider that owns
// the real account.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/saasbridge/gateway/internal/config"
	"github.com/saasbridge/gateway/internal/errors"
)

// fallbackTokenLifetime is assumed when the provider returns neither
// expires_in nor a JWT access token with an exp claim.
const fallbackTokenLifetime = time.Hour

type Client struct {
	provider      *oidc.Provider
	oauthConfig   *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	allowedDomain string
	nowTime       func() time.Time
}

// New discovers the provider's endpoints from its issuer URL and builds the
// OAuth client used for code exchange and refresh.
func New(ctx context.Context, cfg config.UpstreamConfig) (*Client, error) {
	provider, err := oidc.NewProvider(ctx, cfg.GetUpstreamIssuerURL())
	if err != nil {
		return nil, fmt.Errorf("[upstream.New] provider discovery: %w", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GetUpstreamClientID(),
		ClientSecret: cfg.GetUpstreamClientSecret(),
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.GetUpstreamRedirectURL(),
		Scopes:       cfg.GetUpstreamScopes(),
	}

	return &Client{
		provider:      provider,
		oauthConfig:   oauthConfig,
		verifier:      provider.Verifier(&oidc.Config{ClientID: cfg.GetUpstreamClientID()}),
		allowedDomain: strings.ToLower(cfg.GetAllowedDomain()),
		nowTime:       time.Now,
	}, nil
}

// AuthCodeURL builds the upstream authorization request with PKCE and a
// nonce, requesting offline access so a refresh token is issued.
func (c *Client) AuthCodeURL(state, nonce, codeChallenge string) string {
	return c.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange swaps the upstream authorization code for tokens, verifies the
// ID token (signature, nonce) and the organisation domain restriction, and
// returns the resulting identity.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error) {
	token, err := c.oauthConfig.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, classifyOAuthError(err, "[Client.Exchange] code exchange")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("[Client.Exchange] no id_token in response")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[Client.Exchange] id token verification: %w", err)
	}

	var claims struct {
		Nonce        string `json:"nonce"`
		Sub          string `json:"sub"`
		Email        string `json:"email"`
		HostedDomain string `json:"hd"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[Client.Exchange] extract claims: %w", err)
	}

	if claims.Nonce != nonce {
		return nil, errors.Wrapf(errors.ErrInvalidGrant, "[Client.Exchange] nonce mismatch")
	}

	identity := &Identity{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    c.tokenExpiry(token),
		Email:        claims.Email,
		SubjectID:    claims.Sub,
	}

	if err := c.validateDomain(identity, claims.HostedDomain); err != nil {
		return nil, err
	}
	return identity, nil
}

// Refresh exchanges the refresh token for a fresh access token. A provider
// response of invalid_grant means the refresh credential itself is dead and
// surfaces as ErrRevoked; the caller must purge the stored identity and
// force re-authentication.
func (c *Client) Refresh(ctx context.Context, identity *Identity) (*Identity, error) {
	if identity.RefreshToken == "" {
		return nil, errors.Wrapf(errors.ErrTokenExpired, "[Client.Refresh] no refresh token")
	}

	source := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: identity.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classifyOAuthError(err, "[Client.Refresh] token refresh")
	}

	refreshed := &Identity{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    c.tokenExpiry(token),
		Email:        identity.Email,
		SubjectID:    identity.SubjectID,
	}
	// Providers may rotate the refresh token or omit it; keep the old one
	// when none is returned.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = identity.RefreshToken
	}

	if err := c.validateDomain(refreshed, ""); err != nil {
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) validateDomain(identity *Identity, hostedDomain string) error {
	if c.allowedDomain == "" {
		return nil
	}
	if strings.ToLower(hostedDomain) == c.allowedDomain {
		return nil
	}
	if identity.EmailDomain() == c.allowedDomain {
		return nil
	}
	return errors.Wrapf(errors.ErrDomainNotAllowed, "[Client.validateDomain] %q", identity.EmailDomain())
}

// tokenExpiry determines when the access token expires. When the provider
// omits expires_in, fall back to the exp claim of a JWT-shaped access
// token; the token arrived over TLS from the token endpoint, so the
// unverified parse is only used for scheduling, never for trust.
func (c *Client) tokenExpiry(token *oauth2.Token) time.Time {
	if !token.Expiry.IsZero() {
		return token.Expiry
	}
	if exp, ok := jwtExpiry(token.AccessToken); ok {
		return exp
	}
	return c.nowTime().Add(fallbackTokenLifetime)
}

func jwtExpiry(accessToken string) (time.Time, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// classifyOAuthError maps provider error responses onto the gateway's
// error taxonomy.
func classifyOAuthError(err error, context string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case retrieveErr.ErrorCode == "invalid_grant":
			return errors.Wrapf(errors.ErrRevoked, "%s", context)
		case retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusTooManyRequests ||
				retrieveErr.Response.StatusCode == http.StatusForbidden):
			return errors.Wrapf(errors.ErrRateLimited, "%s", context)
		}
	}
	return fmt.Errorf("%s: %w", context, err)
}
