package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/pkce"
)

// Callback receives the upstream provider's redirect. It consumes the
// pending flow, exchanges the upstream code for a verified identity,
// mints a single-use downstream authorization code and sends the user
// agent back to the client's own redirect_uri.
func (s *Server) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if errCode := query.Get("error"); errCode != "" {
			s.log.Warn().Str("error", errCode).Str("description", query.Get("error_description")).Msg("upstream authorization denied")
			s.renderErrorPage(w, "Authorization was denied by the identity provider. You can close this window and try again.")
			return
		}

		upstreamCode := query.Get("code")
		upstreamState := query.Get("state")
		if upstreamCode == "" || upstreamState == "" {
			s.renderErrorPage(w, "The authorization response is missing required parameters.")
			return
		}

		flow, err := s.consumeFlowState(r.Context(), upstreamState)
		if err != nil {
			if errors.Is(err, errors.ErrFlowExpired) {
				s.renderErrorPage(w, "This sign-in attempt has expired. Please start again from your client.")
				return
			}
			s.log.Error().Err(err).Msg("pending flow lookup failed")
			s.renderErrorPage(w, "Something went wrong completing sign-in. Please try again.")
			return
		}

		identity, err := s.upstream.Exchange(r.Context(), upstreamCode, flow.UpstreamVerifier, flow.UpstreamNonce)
		if err != nil {
			if errors.Is(err, errors.ErrDomainNotAllowed) {
				s.log.Warn().Err(err).Msg("callback rejected for disallowed domain")
				s.renderErrorPage(w, "Your account's domain is not permitted to use this service.")
				return
			}
			s.log.Error().Err(err).Msg("upstream code exchange failed")
			s.renderErrorPage(w, "Sign-in could not be completed with the identity provider. Please try again.")
			return
		}

		identityJSON, err := json.Marshal(identity)
		if err != nil {
			s.log.Error().Err(err).Msg("identity marshal failed")
			s.renderErrorPage(w, "Something went wrong completing sign-in. Please try again.")
			return
		}
		sealed, err := s.sealer.Encrypt(r.Context(), identityJSON)
		if err != nil {
			s.log.Error().Err(err).Msg("identity encryption failed")
			s.renderErrorPage(w, "Something went wrong completing sign-in. Please try again.")
			return
		}

		codeValue, err := pkce.GenerateState()
		if err != nil {
			s.log.Error().Err(err).Msg("authorization code generation failed")
			s.renderErrorPage(w, "Something went wrong completing sign-in. Please try again.")
			return
		}
		authCode := &authorizationCode{
			Code:          codeValue,
			IdentityBlob:  sealed,
			ClientID:      flow.ClientID,
			RedirectURI:   flow.RedirectURI,
			CodeChallenge: flow.CodeChallenge,
			Scope:         flow.Scope,
			ExpiresAt:     s.nowTime().Add(s.codeTTL),
		}
		if err := s.putAuthCode(r.Context(), authCode); err != nil {
			s.log.Error().Err(err).Msg("storing authorization code failed")
			s.renderErrorPage(w, "Something went wrong completing sign-in. Please try again.")
			return
		}

		target, err := url.Parse(flow.RedirectURI)
		if err != nil {
			s.renderErrorPage(w, "The client redirect address is invalid.")
			return
		}
		params := target.Query()
		params.Set("code", codeValue)
		if flow.DownstreamState != "" {
			params.Set("state", flow.DownstreamState)
		}
		target.RawQuery = params.Encode()

		s.log.Info().Str("clientId", flow.ClientID).Str("email", identity.Email).Msg("authorization completed")
		s.renderSuccessPage(w, target.String())
	}
}
