// Package token manages the downstream-facing bearer credential: an opaque
// random token whose record carries the user's upstream identity sealed in
// an envelope-encrypted blob.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saasbridge/gateway/envelope"
	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record"
	"github.com/saasbridge/gateway/upstream"
)

const tokenBytes = 32 // 256 bits

// BearerTokenRecord is the stored form of a bearer token. ExpiresAt governs
// the record's own lifetime; the upstream token's expiry travels inside the
// encrypted blob so a refresh can update it without re-issuing the bearer
// token.
type BearerTokenRecord struct {
	Blob           *envelope.Sealed `json:"blob"`
	OwnerEmail     string           `json:"ownerEmail"`
	OwnerSessionID string           `json:"ownerSessionId"`
	IssuedAt       time.Time        `json:"issuedAt"`
	ExpiresAt      time.Time        `json:"expiresAt"`
}

type Manager struct {
	store         record.Store
	sealer        *envelope.Service
	ttl           time.Duration
	maxSessionAge time.Duration
	nowTime       func() time.Time
}

// ManagerOption modifies a Manager, primarily for testing.
type ManagerOption func(*Manager)

// WithNowTime sets the clock (for tests).
func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.nowTime = now }
}

func NewManager(store record.Store, sealer *envelope.Service, ttl, maxSessionAge time.Duration, options ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		sealer:        sealer,
		ttl:           ttl,
		maxSessionAge: maxSessionAge,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Mint issues a new bearer token bound to the given identity. The session
// identifier minted here is the canonical identity key for the token's
// whole lifetime; refresh locking on every code path derives from it.
func (m *Manager) Mint(ctx context.Context, identity *upstream.Identity) (string, *BearerTokenRecord, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("[Manager.Mint] random token: %w", err)
	}
	tokenStr := base64.RawURLEncoding.EncodeToString(raw)
	sessionID := uuid.New().String()

	now := m.nowTime()
	rec := &BearerTokenRecord{
		OwnerEmail:     identity.Email,
		OwnerSessionID: sessionID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.ttl),
	}

	if err := m.seal(ctx, rec, identity); err != nil {
		return "", nil, err
	}
	if err := m.put(ctx, tokenStr, rec, m.ttl); err != nil {
		return "", nil, err
	}

	// Secondary index so refresh persistence can address the record by
	// its stable session identifier.
	if err := m.store.Put(ctx, record.SessionKey(sessionID), []byte(tokenStr), m.ttl); err != nil {
		return "", nil, fmt.Errorf("[Manager.Mint] session index: %w", err)
	}
	return tokenStr, rec, nil
}

// Resolve looks up a bearer token and returns the identity sealed inside
// it. An unknown or expired token yields ErrInvalidToken; a record older
// than the maximum session age yields ErrReauthenticationRequired.
func (m *Manager) Resolve(ctx context.Context, tokenStr string) (*upstream.Identity, *BearerTokenRecord, error) {
	rec, err := m.get(ctx, tokenStr)
	if err != nil {
		return nil, nil, err
	}

	now := m.nowTime()
	if now.After(rec.ExpiresAt) {
		return nil, nil, errors.Wrapf(errors.ErrInvalidToken, "[Manager.Resolve] token record expired")
	}
	if now.Sub(rec.IssuedAt) > m.maxSessionAge {
		return nil, nil, errors.Wrapf(errors.ErrReauthenticationRequired, "[Manager.Resolve] session exceeds maximum age")
	}

	plaintext, err := m.sealer.Decrypt(ctx, rec.Blob)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "[Manager.Resolve] decrypt identity blob")
	}

	var identity upstream.Identity
	if err := json.Unmarshal(plaintext, &identity); err != nil {
		return nil, nil, fmt.Errorf("[Manager.Resolve] unmarshal identity: %w", err)
	}
	return &identity, rec, nil
}

// Save implements upstream.TokenPersister: after a successful refresh the
// record's blob is replaced in place, preserving the bearer token and its
// original expiry.
func (m *Manager) Save(ctx context.Context, sessionID string, identity *upstream.Identity) error {
	tokenStr, err := m.store.Get(ctx, record.SessionKey(sessionID))
	if err != nil {
		return errors.Wrapf(err, "[Manager.Save] session index %s", sessionID)
	}

	rec, err := m.get(ctx, string(tokenStr))
	if err != nil {
		return errors.Wrapf(err, "[Manager.Save] token record")
	}

	if err := m.seal(ctx, rec, identity); err != nil {
		return err
	}

	remaining := rec.ExpiresAt.Sub(m.nowTime())
	if remaining <= 0 {
		return errors.Wrapf(errors.ErrInvalidToken, "[Manager.Save] token record expired")
	}
	return m.put(ctx, string(tokenStr), rec, remaining)
}

// Revoke removes a bearer token and its session index. Used when the
// upstream signals the stored credential is dead.
func (m *Manager) Revoke(ctx context.Context, tokenStr string) error {
	rec, err := m.get(ctx, tokenStr)
	if err == nil {
		_ = m.store.Delete(ctx, record.SessionKey(rec.OwnerSessionID))
	}
	if err := m.store.Delete(ctx, record.TokenKey(tokenStr)); err != nil {
		return fmt.Errorf("[Manager.Revoke] delete token: %w", err)
	}
	return nil
}

// TTLSeconds returns the bearer record lifetime for the token response.
func (m *Manager) TTLSeconds() int64 {
	return int64(m.ttl / time.Second)
}

func (m *Manager) seal(ctx context.Context, rec *BearerTokenRecord, identity *upstream.Identity) error {
	plaintext, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("[Manager.seal] marshal identity: %w", err)
	}
	blob, err := m.sealer.Encrypt(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("[Manager.seal] encrypt identity: %w", err)
	}
	rec.Blob = blob
	return nil
}

func (m *Manager) get(ctx context.Context, tokenStr string) (*BearerTokenRecord, error) {
	payload, err := m.store.Get(ctx, record.TokenKey(tokenStr))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "[Manager.get] unknown token")
	}
	if err != nil {
		return nil, fmt.Errorf("[Manager.get] store: %w", err)
	}

	var rec BearerTokenRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("[Manager.get] unmarshal record: %w", err)
	}
	return &rec, nil
}

func (m *Manager) put(ctx context.Context, tokenStr string, rec *BearerTokenRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("[Manager.put] marshal record: %w", err)
	}
	if err := m.store.Put(ctx, record.TokenKey(tokenStr), payload, ttl); err != nil {
		return fmt.Errorf("[Manager.put] store: %w", err)
	}
	return nil
}
