package server

import (
	"encoding/json"
	"net/http"
)

type registerRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

type registerResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// Register handles RFC 7591 dynamic client registration.
func (s *Server) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, errorInvalidRequest, "request body must be valid JSON", http.StatusBadRequest)
			return
		}

		for _, uri := range req.RedirectURIs {
			if !s.validRedirectURI(uri) {
				writeJSONError(w, errorInvalidRequest, "redirect_uri scheme not allowed", http.StatusBadRequest)
				return
			}
		}

		reg, err := s.clients.Register(r.Context(), req.ClientName, req.RedirectURIs)
		if err != nil {
			s.log.Error().Err(err).Msg("client registration failed")
			writeJSONError(w, errorServerError, "registration failed", http.StatusInternalServerError)
			return
		}

		s.log.Info().Str("clientId", reg.ClientID).Str("clientName", reg.ClientName).Msg("registered client")
		writeJSON(w, http.StatusCreated, registerResponse{
			ClientID:                reg.ClientID,
			ClientName:              reg.ClientName,
			RedirectURIs:            reg.RedirectURIs,
			ClientIDIssuedAt:        reg.IssuedAt.Unix(),
			TokenEndpointAuthMethod: "none",
			GrantTypes:              []string{"authorization_code"},
			ResponseTypes:           []string{"code"},
		})
	}
}
