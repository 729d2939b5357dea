package config

import "time"

// OAuthConfig covers the downstream authorization server: the endpoints the
// desktop client talks to.
type OAuthConfig interface {
	GetPendingFlowTTL() time.Duration
	GetAuthCodeTTL() time.Duration
	GetClientRegistrationTTL() time.Duration
	GetAllowedRedirectSchemes() []string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetPendingFlowTTL() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetAuthCodeTTL() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetClientRegistrationTTL() time.Duration {
	return 30 * 24 * time.Hour // 30 days
}

// GetAllowedRedirectSchemes returns custom URI schemes a registered client
// may redirect to, in addition to loopback http URLs. Desktop clients use
// reverse-domain schemes to receive the authorization code.
func (OAuth) GetAllowedRedirectSchemes() []string {
	return []string{"claude", "cursor", "vscode"}
}
