package server

import "net/http"

func (s *Server) initRoutes() {
	mw := s.baseMiddleware()

	s.RegisterRouteFunc("GET "+RouteWellKnownAuthServer, ChainMiddleware(s.AuthServerMetadata(), mw...))
	s.RegisterRouteFunc("GET "+RouteWellKnownProtectedResource, ChainMiddleware(s.ProtectedResourceMetadata(), mw...))

	s.RegisterRouteFunc("POST "+RouteOAuthRegister, ChainMiddleware(s.Register(), mw...))
	s.RegisterRouteFunc("GET "+RouteOAuthAuthorize, ChainMiddleware(s.Authorize(), mw...))
	s.RegisterRouteFunc("GET "+RouteOAuthCallback, ChainMiddleware(s.Callback(), mw...))
	s.RegisterRouteFunc("POST "+RouteOAuthToken, ChainMiddleware(s.Token(), mw...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.Health())
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
