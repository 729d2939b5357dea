// Package refresh decides when an upstream access token needs refreshing
// and coordinates the refresh across processes through the distributed
// lock, so the same identity is never refreshed twice concurrently.
package refresh

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/lock"
	"github.com/saasbridge/gateway/record"
	"github.com/saasbridge/gateway/upstream"
)

// Status reports what EnsureFresh did for a given check.
type Status int

const (
	// StatusFresh: time to expiry was above the threshold, no action.
	StatusFresh Status = iota
	// StatusRefreshed: this process won the lock and refreshed the token.
	StatusRefreshed
	// StatusSkipped: another holder owns the lock, or the refresh attempt
	// failed non-fatally; the request proceeds with the token it had.
	StatusSkipped
)

// Refresher performs the actual upstream refresh call.
type Refresher interface {
	Refresh(ctx context.Context, identity *upstream.Identity) (*upstream.Identity, error)
}

type Coordinator struct {
	locks         *lock.Manager
	refresher     Refresher
	persister     upstream.TokenPersister
	threshold     time.Duration
	retryAttempts int
	retryDelay    time.Duration
	log           zerolog.Logger
	nowTime       func() time.Time
}

// CoordinatorOption modifies a Coordinator, primarily for testing.
type CoordinatorOption func(*Coordinator)

// WithNowTime sets the clock (for tests).
func WithNowTime(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.nowTime = now }
}

// WithLockRetry enables a bounded blocking wait for the refresh lock when
// the token is already expired. Near-expiry checks stay opportunistic.
func WithLockRetry(attempts int, delay time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

func NewCoordinator(locks *lock.Manager, refresher Refresher, persister upstream.TokenPersister, threshold time.Duration, log zerolog.Logger, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		locks:         locks,
		refresher:     refresher,
		persister:     persister,
		threshold:     threshold,
		retryAttempts: 1,
		log:           log,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// EnsureFresh returns an identity that is safe to hand to a tool handler.
//
// The lock key is always derived from the stable session identifier, so
// the cookie-session and bearer-token call paths exclude each other: both
// resolve the same canonical sessionID before calling in.
//
// Losing the lock is not an error: another process is refreshing, and this
// request proceeds with the token it already had, accepting a small risk
// of operating on a soon-to-expire token until the next check. Only
// ErrRevoked surfaces; every other refresh failure degrades to "proceed
// without refresh".
func (c *Coordinator) EnsureFresh(ctx context.Context, sessionID string, identity *upstream.Identity) (*upstream.Identity, Status, error) {
	now := c.nowTime()
	if !identity.ExpiresWithin(c.threshold, now) {
		return identity, StatusFresh, nil
	}

	if identity.RefreshToken == "" {
		if identity.ExpiresWithin(0, now) {
			return nil, StatusSkipped, errors.Wrapf(errors.ErrTokenExpired, "[Coordinator.EnsureFresh] expired with no refresh credential")
		}
		// Expiring soon but nothing to refresh with; let it ride.
		return identity, StatusFresh, nil
	}

	lockKey := record.LockKey(sessionID)
	var acquired bool
	var err error
	if c.retryAttempts > 1 && identity.ExpiresWithin(0, now) {
		// An expired token cannot serve the request anyway, so a short
		// bounded wait for the current lock holder beats proceeding.
		acquired, err = c.locks.AcquireWithRetry(ctx, lockKey, c.retryAttempts, c.retryDelay)
	} else {
		acquired, err = c.locks.Acquire(ctx, lockKey)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("refresh lock acquire failed, proceeding without refresh")
		return identity, StatusSkipped, nil
	}
	if !acquired {
		return identity, StatusSkipped, nil
	}
	defer c.locks.Release(ctx, lockKey)

	refreshed, err := c.refresher.Refresh(ctx, identity)
	if errors.Is(err, errors.ErrRevoked) {
		return nil, StatusSkipped, err
	}
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("upstream refresh failed, proceeding with current token")
		return identity, StatusSkipped, nil
	}

	if err := c.persister.Save(ctx, sessionID, refreshed); err != nil {
		// The refreshed token is still good for this request even if it
		// could not be persisted; the next check will refresh again.
		c.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist refreshed identity")
	}

	return refreshed, StatusRefreshed, nil
}
