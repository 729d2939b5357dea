package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/upstream"
)

type contextKey string

const (
	identityContextKey contextKey = "gateway.identity"
	sessionContextKey  contextKey = "gateway.sessionId"
)

// IdentityFromContext returns the authenticated upstream identity placed
// on the request context by RequireBearer.
func IdentityFromContext(ctx context.Context) (*upstream.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*upstream.Identity)
	return identity, ok
}

// SessionIDFromContext returns the bearer session id placed on the
// request context by RequireBearer.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionContextKey).(string)
	return sessionID, ok
}

// ContextWithIdentity returns a context carrying identity as if the
// request had passed bearer authentication.
func ContextWithIdentity(ctx context.Context, identity *upstream.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// RequireBearer authenticates the request's bearer token, opportunistically
// refreshes the upstream credential behind it, and injects the resulting
// identity into the request context. A refresh that fails for transient
// reasons does not fail the request; a revoked upstream credential does,
// and purges the stored bearer record.
func (s *Server) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := trimBearer(r.Header.Get("Authorization"))
		if !ok {
			s.writeUnauthorized(w, r, "missing bearer token")
			return
		}

		identity, rec, err := s.tokens.Resolve(r.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, errors.ErrInvalidToken):
				s.writeUnauthorized(w, r, "invalid bearer token")
			case errors.Is(err, errors.ErrReauthenticationRequired):
				s.writeUnauthorized(w, r, "session has exceeded its maximum age, re-authentication required")
			default:
				s.log.Error().Err(err).Msg("bearer token resolution failed")
				writeJSONError(w, errorServerError, "authentication failed", http.StatusInternalServerError)
			}
			return
		}

		if s.coordinator != nil {
			fresh, _, err := s.coordinator.EnsureFresh(r.Context(), rec.OwnerSessionID, identity)
			if err != nil {
				if errors.Is(err, errors.ErrRevoked) {
					if revokeErr := s.tokens.Revoke(r.Context(), tokenStr); revokeErr != nil {
						s.log.Error().Err(revokeErr).Msg("revoking bearer token failed")
					}
					s.writeUnauthorized(w, r, "upstream credential revoked, re-authentication required")
					return
				}
				if errors.Is(err, errors.ErrTokenExpired) {
					s.writeUnauthorized(w, r, "upstream credential expired, re-authentication required")
					return
				}
				s.log.Error().Err(err).Msg("token refresh failed")
				writeJSONError(w, errorServerError, "authentication failed", http.StatusInternalServerError)
				return
			}
			identity = fresh
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		ctx = context.WithValue(ctx, sessionContextKey, rec.OwnerSessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, r *http.Request, description string) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer resource_metadata=%q`, baseURL(r)+RouteWellKnownProtectedResource))
	writeJSONError(w, errorInvalidToken, description, http.StatusUnauthorized)
}
