package upstream

import (
	"context"
	"strings"
	"time"
)

// Identity is the proof of a user's authority over the upstream provider.
// The canonical copy lives encrypted in the record store; everything else
// holds short-lived working copies.
type Identity struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Email        string    `json:"email"`
	SubjectID    string    `json:"subjectId"`
}

// ExpiresWithin reports whether the access token expires inside the given
// window (or already has).
func (id *Identity) ExpiresWithin(window time.Duration, now time.Time) bool {
	if id.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(window).Before(id.ExpiresAt)
}

// EmailDomain returns the part after '@', lowercased, or "".
func (id *Identity) EmailDomain() string {
	at := strings.LastIndex(id.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(id.Email[at+1:])
}

// TokenPersister saves a freshly refreshed identity back into whichever
// durable representation is in use. The refresh coordinator calls it after
// every successful upstream refresh, making the dependency and its failure
// mode visible at the call site.
type TokenPersister interface {
	Save(ctx context.Context, sessionID string, identity *Identity) error
}
