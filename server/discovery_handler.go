package server

import "net/http"

type authServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
}

type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// AuthServerMetadata serves RFC 8414 authorization server metadata. The
// issuer is derived from the request so the same binary works behind any
// hostname without reconfiguration.
func (s *Server) AuthServerMetadata() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := baseURL(r)
		writeJSON(w, http.StatusOK, authServerMetadata{
			Issuer:                            base,
			AuthorizationEndpoint:             base + RouteOAuthAuthorize,
			TokenEndpoint:                     base + RouteOAuthToken,
			RegistrationEndpoint:              base + RouteOAuthRegister,
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			TokenEndpointAuthMethodsSupported: []string{"none"},
			ScopesSupported:                   []string{"openid", "email", "profile"},
		})
	}
}

// ProtectedResourceMetadata serves RFC 9728 protected resource metadata
// pointing clients back at this server's own authorization endpoints.
func (s *Server) ProtectedResourceMetadata() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := baseURL(r)
		writeJSON(w, http.StatusOK, protectedResourceMetadata{
			Resource:               base,
			AuthorizationServers:   []string{base},
			BearerMethodsSupported: []string{"header"},
			ScopesSupported:        []string{"openid", "email", "profile"},
		})
	}
}
