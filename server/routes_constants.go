package server

// Route path constants
// All endpoints the downstream client touches are defined here to ensure
// consistency and prevent typos
const (
	RouteWellKnownAuthServer        = "/.well-known/oauth-authorization-server"
	RouteWellKnownProtectedResource = "/.well-known/oauth-protected-resource"

	RouteOAuthRegister  = "/oauth/register"
	RouteOAuthAuthorize = "/oauth/authorize"
	RouteOAuthCallback  = "/oauth/callback"
	RouteOAuthToken     = "/oauth/token"

	RouteHealth = "/healthz"
)
