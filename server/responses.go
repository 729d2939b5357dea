package server

import (
	"encoding/json"
	"net/http"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// OAuth 2.0 error codes returned to downstream clients.
const (
	errorInvalidRequest       = "invalid_request"
	errorInvalidGrant         = "invalid_grant"
	errorInvalidToken         = "invalid_token"
	errorUnsupportedGrantType = "unsupported_grant_type"
	errorServerError          = "server_error"
)

// writeJSONError writes an OAuth2 error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
