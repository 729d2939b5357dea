// Package sessions tracks live streaming connections and the identity each
// one authenticated as. The registry is a single concurrency-safe keyed
// map injected into request handlers; nothing reaches it as ambient state.
package sessions

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saasbridge/gateway/upstream"
)

// TransportSession is one live streaming connection bound to one
// authenticated identity. The identity is resolved once at connect time; a
// later token refresh updates it for future authorization checks without
// the transport layer being involved.
type TransportSession struct {
	SessionID   string
	Identity    *upstream.Identity
	ConnectedAt time.Time

	// Close tears down the underlying transport. May be nil for
	// transports that are torn down elsewhere.
	Close func() error
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*TransportSession
	log      zerolog.Logger
	nowTime  func() time.Time
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*TransportSession),
		log:      log,
		nowTime:  time.Now,
	}
}

// Register records a new live connection. Re-registering a session ID
// replaces the previous entry.
func (r *Registry) Register(sessionID string, identity *upstream.Identity, closeFn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &TransportSession{
		SessionID:   sessionID,
		Identity:    identity,
		ConnectedAt: r.nowTime(),
		Close:       closeFn,
	}
}

// Resolve answers "who is making this call" for a live connection.
func (r *Registry) Resolve(sessionID string) (*upstream.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return session.Identity, true
}

// UpdateIdentity swaps the stored identity after a token refresh. A
// missing session is not an error; the connection may have closed while
// the refresh was in flight.
func (r *Registry) UpdateIdentity(sessionID string, identity *upstream.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		session.Identity = identity
	}
}

// Unregister removes a connection on disconnect.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEachActive visits every live session. The snapshot is taken under the
// lock but fn runs outside it, so handlers may call back into the
// registry.
func (r *Registry) ForEachActive(fn func(*TransportSession)) {
	r.mu.RLock()
	snapshot := make([]*TransportSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	r.mu.RUnlock()

	for _, session := range snapshot {
		fn(session)
	}
}

// CloseAll tears down every live connection for graceful shutdown. Closing
// is best-effort: a failing handler is logged and the sweep continues.
func (r *Registry) CloseAll() {
	r.ForEachActive(func(session *TransportSession) {
		if session.Close != nil {
			if err := session.Close(); err != nil {
				r.log.Warn().Err(err).Str("session_id", session.SessionID).Msg("transport close failed during shutdown")
			}
		}
		r.Unregister(session.SessionID)
	})
}
