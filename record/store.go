// Package record provides the durable record store shared by every gateway
// instance. All cross-instance coordination (refresh locks, single-use
// authorization codes, pending flow state) goes through its conditional
// write primitive; there is no other shared state between processes.
package record

import (
	"context"
	"time"
)

// Key prefixes partition the store by record type. Keys are always built
// through the helpers below so the prefixes stay in one place.
const (
	tokenPrefix   = "TOKEN#"
	sessionPrefix = "SESSION#"
	statePrefix   = "OAUTH_STATE#"
	codePrefix    = "OAUTH_CODE#"
	clientPrefix  = "OAUTH_CLIENT#"
	lockPrefix    = "REFRESH_LOCK#"
)

func TokenKey(token string) string       { return tokenPrefix + token }
func SessionKey(sessionID string) string { return sessionPrefix + sessionID }
func StateKey(state string) string       { return statePrefix + state }
func CodeKey(code string) string         { return codePrefix + code }
func ClientKey(clientID string) string   { return clientPrefix + clientID }
func LockKey(sessionID string) string    { return lockPrefix + sessionID }

// Store is a strongly consistent key-value store with per-item expiry and
// an atomic create-if-absent primitive.
//
// Expiry is enforced twice: by the backing store's native TTL and by an
// application-level check at read time, because native expiry is
// best-effort and may lag. A record whose deadline has passed is reported
// as ErrNotFound even if it has not been physically removed yet.
type Store interface {
	// Put writes value under key with the given TTL, overwriting any
	// existing record.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent writes value under key only if no live record exists.
	// Returns ErrConditionFailed when another record is present. This is
	// the store's only mutual-exclusion primitive.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel atomically reads and deletes the record under key. A second
	// call with the same key always returns ErrNotFound, which is what
	// makes single-use authorization codes single use.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Delete removes the record under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}
