// Package lock provides cross-process mutual exclusion for upstream token
// refreshes, built on the record store's conditional write. A lock is
// advisory: it only excludes other participants that go through Acquire.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record"
)

// Lease is what gets written under the lock key. It exists for operators
// inspecting the store; holders never read it back.
type Lease struct {
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type Manager struct {
	store   record.Store
	ttl     time.Duration
	log     zerolog.Logger
	nowTime func() time.Time
}

func NewManager(store record.Store, ttl time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		ttl:     ttl,
		log:     log,
		nowTime: time.Now,
	}
}

// Acquire attempts an atomic create-if-absent write of the lock record.
// Returning false means another holder exists; under concurrent requests
// for the same identity this is an expected, frequent outcome, not a
// failure. A crashed holder's lease expires via TTL.
func (m *Manager) Acquire(ctx context.Context, key string) (bool, error) {
	now := m.nowTime()
	lease, err := json.Marshal(Lease{AcquiredAt: now, ExpiresAt: now.Add(m.ttl)})
	if err != nil {
		return false, fmt.Errorf("[Manager.Acquire] marshal lease: %w", err)
	}

	err = m.store.PutIfAbsent(ctx, key, lease, m.ttl)
	if errors.Is(err, errors.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("[Manager.Acquire] %s: %w", key, err)
	}
	return true, nil
}

// AcquireWithRetry polls Acquire with a fixed delay for callers that must
// wait rather than skip. It returns false once attempts are exhausted or
// the context is cancelled.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, maxAttempts int, delay time.Duration) (bool, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		acquired, err := m.Acquire(ctx, key)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}
	}
	return false, nil
}

// Release deletes the lock record. Best effort: a failed release is logged
// and the lease is left to expire via TTL.
func (m *Manager) Release(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, key); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("lock release failed, waiting for TTL expiry")
	}
}
