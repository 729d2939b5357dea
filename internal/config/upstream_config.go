package config

import "strings"

// UpstreamConfig describes the identity provider that owns the end user's
// real account. The gateway is an OAuth client toward this provider.
type UpstreamConfig interface {
	GetUpstreamIssuerURL() string
	GetUpstreamClientID() string
	GetUpstreamClientSecret() string
	GetUpstreamRedirectURL() string
	GetUpstreamScopes() []string
	GetAllowedDomain() string
}

type Upstream struct{}

var _ UpstreamConfig = Upstream{}

func (Upstream) GetUpstreamIssuerURL() string {
	return GetEnv("UPSTREAM_ISSUER_URL", "https://accounts.google.com")
}

func (Upstream) GetUpstreamClientID() string {
	return GetEnv("UPSTREAM_CLIENT_ID", "")
}

func (Upstream) GetUpstreamClientSecret() string {
	return GetEnv("UPSTREAM_CLIENT_SECRET", "")
}

func (Upstream) GetUpstreamRedirectURL() string {
	base := EnvVars{}.GetBaseURL()
	return GetEnv("UPSTREAM_REDIRECT_URL", base+"/oauth/callback")
}

func (Upstream) GetUpstreamScopes() []string {
	scopes := GetEnv("UPSTREAM_SCOPES", "openid email profile")
	return strings.Fields(scopes)
}

// GetAllowedDomain returns the organisation domain users must belong to.
// Empty means any account is accepted.
func (Upstream) GetAllowedDomain() string {
	return GetEnv("ALLOWED_DOMAIN", "")
}
