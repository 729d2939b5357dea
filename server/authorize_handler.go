package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/pkce"
)

// Authorize starts the double-hop authorization flow. The downstream
// parameters are parked under a freshly generated upstream state, a
// second PKCE pair is generated for the upstream leg, and the user agent
// is redirected to the upstream provider.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if query.Get("response_type") != "code" {
			writeJSONError(w, errorInvalidRequest, "response_type must be code", http.StatusBadRequest)
			return
		}

		clientID := query.Get("client_id")
		if clientID == "" {
			writeJSONError(w, errorInvalidRequest, "client_id is required", http.StatusBadRequest)
			return
		}
		if _, err := s.clients.Get(r.Context(), clientID); err != nil {
			if errors.Is(err, errors.ErrInvalidClient) {
				writeJSONError(w, errorInvalidRequest, "unknown client_id", http.StatusBadRequest)
				return
			}
			s.log.Error().Err(err).Msg("client lookup failed")
			writeJSONError(w, errorServerError, "client lookup failed", http.StatusInternalServerError)
			return
		}

		redirectURI := query.Get("redirect_uri")
		if !s.validRedirectURI(redirectURI) {
			writeJSONError(w, errorInvalidRequest, "redirect_uri must be a loopback address or an allowed client scheme", http.StatusBadRequest)
			return
		}

		codeChallenge := query.Get("code_challenge")
		if codeChallenge == "" || query.Get("code_challenge_method") != "S256" {
			writeJSONError(w, errorInvalidRequest, "code_challenge with method S256 is required", http.StatusBadRequest)
			return
		}

		upstreamVerifier, upstreamChallenge, err := pkce.Generate()
		if err != nil {
			s.log.Error().Err(err).Msg("pkce generation failed")
			writeJSONError(w, errorServerError, "could not start authorization", http.StatusInternalServerError)
			return
		}
		upstreamState, err := pkce.GenerateState()
		if err != nil {
			s.log.Error().Err(err).Msg("state generation failed")
			writeJSONError(w, errorServerError, "could not start authorization", http.StatusInternalServerError)
			return
		}
		upstreamNonce, err := pkce.GenerateState()
		if err != nil {
			s.log.Error().Err(err).Msg("nonce generation failed")
			writeJSONError(w, errorServerError, "could not start authorization", http.StatusInternalServerError)
			return
		}

		flow := &pendingFlowState{
			StateID:          upstreamState,
			ClientID:         clientID,
			RedirectURI:      redirectURI,
			CodeChallenge:    codeChallenge,
			Scope:            query.Get("scope"),
			DownstreamState:  query.Get("state"),
			UpstreamVerifier: upstreamVerifier,
			UpstreamNonce:    upstreamNonce,
			ExpiresAt:        s.nowTime().Add(s.flowTTL),
		}
		if err := s.putFlowState(r.Context(), flow); err != nil {
			s.log.Error().Err(err).Msg("storing pending flow failed")
			writeJSONError(w, errorServerError, "could not start authorization", http.StatusInternalServerError)
			return
		}

		authURL := s.upstream.AuthCodeURL(upstreamState, upstreamNonce, upstreamChallenge)
		s.log.Info().Str("clientId", clientID).Msg("redirecting to upstream authorization")
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// validRedirectURI allows loopback HTTP targets and the configured set of
// native client schemes. Arbitrary remote hosts are never valid targets.
func (s *Server) validRedirectURI(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return false
	}

	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		host := parsed.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	}

	for _, scheme := range s.allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return true
		}
	}
	return false
}
