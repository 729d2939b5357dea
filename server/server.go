// Package server implements the OAuth 2.1 authorization server the
// downstream client talks to: discovery, dynamic registration, authorize,
// callback and token endpoints, plus bearer protection for everything
// behind them. Identity proof is delegated to the upstream provider; once
// proof succeeds the server mints its own bearer artifact.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saasbridge/gateway/clients"
	"github.com/saasbridge/gateway/envelope"
	"github.com/saasbridge/gateway/internal/config"
	"github.com/saasbridge/gateway/record"
	"github.com/saasbridge/gateway/token"
	"github.com/saasbridge/gateway/token/refresh"
	"github.com/saasbridge/gateway/upstream"
)

// UpstreamAuthenticator is the slice of the upstream client the server
// needs: building the authorization redirect and exchanging the callback
// code for a verified identity.
type UpstreamAuthenticator interface {
	AuthCodeURL(state, nonce, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier, nonce string) (*upstream.Identity, error)
}

type Server struct {
	env    string
	mux    *http.ServeMux
	routes []string

	store       record.Store
	sealer      *envelope.Service
	clients     *clients.Registry
	tokens      *token.Manager
	coordinator *refresh.Coordinator
	upstream    UpstreamAuthenticator

	flowTTL        time.Duration
	codeTTL        time.Duration
	allowedSchemes []string

	log     zerolog.Logger
	nowTime func() time.Time
}

type Deps struct {
	Store       record.Store
	Sealer      *envelope.Service
	Clients     *clients.Registry
	Tokens      *token.Manager
	Coordinator *refresh.Coordinator
	Upstream    UpstreamAuthenticator
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("[server.New] record store is required")
	}
	if deps.Sealer == nil {
		return nil, fmt.Errorf("[server.New] envelope service is required")
	}
	if deps.Clients == nil {
		return nil, fmt.Errorf("[server.New] client registry is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("[server.New] token manager is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("[server.New] upstream authenticator is required")
	}

	s := &Server{
		env:            cfg.GetEnv(),
		mux:            http.NewServeMux(),
		store:          deps.Store,
		sealer:         deps.Sealer,
		clients:        deps.Clients,
		tokens:         deps.Tokens,
		coordinator:    deps.Coordinator,
		upstream:       deps.Upstream,
		flowTTL:        cfg.GetPendingFlowTTL(),
		codeTTL:        cfg.GetAuthCodeTTL(),
		allowedSchemes: cfg.GetAllowedRedirectSchemes(),
		log:            log,
		nowTime:        time.Now,
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

// MountProtected mounts handler behind bearer authentication. The
// streaming protocol endpoint goes through here.
func (s *Server) MountProtected(pattern string, handler http.Handler) {
	protected := s.RequireBearer(handler)
	s.RegisterRouteFunc(pattern, ChainMiddleware(protected.ServeHTTP, s.baseMiddleware()...))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		s.log.Debug().Str("route", route).Msg("registered route")
	}
}

// baseURL reconstructs the externally visible base URL of this request,
// honouring the proxy's forwarded scheme.
func baseURL(r *http.Request) string {
	return fmt.Sprintf("%s://%s", getScheme(r), r.Host)
}

func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

func trimBearer(authHeader string) (string, bool) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], parts[1] != ""
}
