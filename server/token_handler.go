package server

import (
	"encoding/json"
	"net/http"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/pkce"
	"github.com/saasbridge/gateway/upstream"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Token redeems a single-use authorization code for a bearer token.
// Redemption deletes the code atomically, so a replayed request always
// fails, and PKCE plus exact redirect_uri matching bind the redemption to
// the client that started the flow.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, errorInvalidRequest, "request body must be form encoded", http.StatusBadRequest)
			return
		}

		if grantType := r.PostFormValue("grant_type"); grantType != "authorization_code" {
			writeJSONError(w, errorUnsupportedGrantType, "only authorization_code is supported", http.StatusBadRequest)
			return
		}

		code := r.PostFormValue("code")
		codeVerifier := r.PostFormValue("code_verifier")
		redirectURI := r.PostFormValue("redirect_uri")
		if code == "" || codeVerifier == "" {
			writeJSONError(w, errorInvalidRequest, "code and code_verifier are required", http.StatusBadRequest)
			return
		}

		authCode, err := s.redeemAuthCode(r.Context(), code)
		if err != nil {
			if errors.Is(err, errors.ErrInvalidGrant) {
				writeJSONError(w, errorInvalidGrant, "authorization code is invalid or expired", http.StatusBadRequest)
				return
			}
			s.log.Error().Err(err).Msg("authorization code redemption failed")
			writeJSONError(w, errorServerError, "token exchange failed", http.StatusInternalServerError)
			return
		}

		if redirectURI != authCode.RedirectURI {
			writeJSONError(w, errorInvalidGrant, "redirect_uri does not match the authorization request", http.StatusBadRequest)
			return
		}
		if !pkce.Verify(codeVerifier, authCode.CodeChallenge) {
			writeJSONError(w, errorInvalidGrant, "code_verifier does not match the challenge", http.StatusBadRequest)
			return
		}

		identityJSON, err := s.sealer.Decrypt(r.Context(), authCode.IdentityBlob)
		if err != nil {
			s.log.Error().Err(err).Msg("authorization code identity decryption failed")
			writeJSONError(w, errorServerError, "token exchange failed", http.StatusInternalServerError)
			return
		}
		var identity upstream.Identity
		if err := json.Unmarshal(identityJSON, &identity); err != nil {
			s.log.Error().Err(err).Msg("authorization code identity unmarshal failed")
			writeJSONError(w, errorServerError, "token exchange failed", http.StatusInternalServerError)
			return
		}

		bearer, rec, err := s.tokens.Mint(r.Context(), &identity)
		if err != nil {
			s.log.Error().Err(err).Msg("bearer token mint failed")
			writeJSONError(w, errorServerError, "token exchange failed", http.StatusInternalServerError)
			return
		}

		s.log.Info().Str("clientId", authCode.ClientID).Str("sessionId", rec.OwnerSessionID).Msg("issued bearer token")
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: bearer,
			TokenType:   "Bearer",
			ExpiresIn:   s.tokens.TTLSeconds(),
			Scope:       authCode.Scope,
		})
	}
}
