package refresh_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/lock"
	"github.com/saasbridge/gateway/record"
	"github.com/saasbridge/gateway/record/recordfake"
	"github.com/saasbridge/gateway/token/refresh"
	"github.com/saasbridge/gateway/upstream"
)

type fakeRefresher struct {
	mu       sync.Mutex
	calls    int32
	result   *upstream.Identity
	err      error
	duration time.Duration
}

func (f *fakeRefresher) Refresh(_ context.Context, _ *upstream.Identity) (*upstream.Identity, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.duration > 0 {
		time.Sleep(f.duration)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

type fakePersister struct {
	mu    sync.Mutex
	saved map[string]*upstream.Identity
	err   error
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string]*upstream.Identity)}
}

func (f *fakePersister) Save(_ context.Context, sessionID string, identity *upstream.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved[sessionID] = identity
	return nil
}

func newCoordinator(t *testing.T, refresher refresh.Refresher, persister upstream.TokenPersister) *refresh.Coordinator {
	t.Helper()
	locks := lock.NewManager(recordfake.New(), 30*time.Second, zerolog.Nop())
	return refresh.NewCoordinator(locks, refresher, persister, 5*time.Minute, zerolog.Nop())
}

func freshIdentity() *upstream.Identity {
	return &upstream.Identity{
		AccessToken:  "current",
		RefreshToken: "refresh-credential",
		ExpiresAt:    time.Now().Add(time.Hour),
		Email:        "user@example.com",
	}
}

func expiringIdentity() *upstream.Identity {
	id := freshIdentity()
	id.ExpiresAt = time.Now().Add(time.Minute)
	return id
}

func TestFreshTokenNoAction(t *testing.T) {
	refresher := &fakeRefresher{}
	c := newCoordinator(t, refresher, newFakePersister())

	id, status, err := c.EnsureFresh(context.Background(), "s1", freshIdentity())
	require.NoError(t, err)
	require.Equal(t, refresh.StatusFresh, status)
	require.Equal(t, "current", id.AccessToken)
	require.Zero(t, atomic.LoadInt32(&refresher.calls))
}

func TestNeedsRefreshWinsLockAndPersists(t *testing.T) {
	refreshed := freshIdentity()
	refreshed.AccessToken = "rotated"
	refresher := &fakeRefresher{result: refreshed}
	persister := newFakePersister()
	c := newCoordinator(t, refresher, persister)

	id, status, err := c.EnsureFresh(context.Background(), "s1", expiringIdentity())
	require.NoError(t, err)
	require.Equal(t, refresh.StatusRefreshed, status)
	require.Equal(t, "rotated", id.AccessToken)
	require.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
	require.Equal(t, "rotated", persister.saved["s1"].AccessToken)
}

func TestConcurrentChecksRefreshOnce(t *testing.T) {
	refreshed := freshIdentity()
	refreshed.AccessToken = "rotated"
	refresher := &fakeRefresher{result: refreshed, duration: 20 * time.Millisecond}
	c := newCoordinator(t, refresher, newFakePersister())

	const callers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	statuses := make([]refresh.Status, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, status, err := c.EnsureFresh(context.Background(), "shared-session", expiringIdentity())
			require.NoError(t, err)
			statuses[i] = status
		}(i)
	}
	close(start)
	wg.Wait()

	// Exactly one caller performed the upstream refresh; everyone else
	// observed the held lock and proceeded without error.
	require.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls))
	refreshedCount := 0
	for _, s := range statuses {
		if s == refresh.StatusRefreshed {
			refreshedCount++
		} else {
			require.Equal(t, refresh.StatusSkipped, s)
		}
	}
	require.Equal(t, 1, refreshedCount)
}

func TestRevokedSurfaces(t *testing.T) {
	refresher := &fakeRefresher{err: errors.ErrRevoked}
	c := newCoordinator(t, refresher, newFakePersister())

	_, _, err := c.EnsureFresh(context.Background(), "s1", expiringIdentity())
	require.ErrorIs(t, err, errors.ErrRevoked)
}

func TestTransientRefreshFailureDegrades(t *testing.T) {
	refresher := &fakeRefresher{err: errors.ErrRateLimited}
	c := newCoordinator(t, refresher, newFakePersister())

	id, status, err := c.EnsureFresh(context.Background(), "s1", expiringIdentity())
	require.NoError(t, err)
	require.Equal(t, refresh.StatusSkipped, status)
	require.Equal(t, "current", id.AccessToken)
}

func TestExpiredWithoutRefreshCredential(t *testing.T) {
	id := freshIdentity()
	id.RefreshToken = ""
	id.ExpiresAt = time.Now().Add(-time.Minute)

	c := newCoordinator(t, &fakeRefresher{}, newFakePersister())
	_, _, err := c.EnsureFresh(context.Background(), "s1", id)
	require.ErrorIs(t, err, errors.ErrTokenExpired)
}

func TestPersistFailureStillReturnsRefreshedIdentity(t *testing.T) {
	refreshed := freshIdentity()
	refreshed.AccessToken = "rotated"
	refresher := &fakeRefresher{result: refreshed}
	persister := newFakePersister()
	persister.err = errors.ErrInternal
	c := newCoordinator(t, refresher, persister)

	id, status, err := c.EnsureFresh(context.Background(), "s1", expiringIdentity())
	require.NoError(t, err)
	require.Equal(t, refresh.StatusRefreshed, status)
	require.Equal(t, "rotated", id.AccessToken)
}

func TestExpiredTokenWaitsForContendedLock(t *testing.T) {
	store := recordfake.New()
	locks := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	refresher := &fakeRefresher{result: freshIdentity()}
	persister := newFakePersister()
	coordinator := refresh.NewCoordinator(locks, refresher, persister, 5*time.Minute, zerolog.Nop(),
		refresh.WithLockRetry(100, time.Millisecond))

	expired := freshIdentity()
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	held, err := locks.Acquire(context.Background(), record.LockKey("session-1"))
	require.NoError(t, err)
	require.True(t, held)

	// Release while the coordinator is retrying; the wait should win the
	// lock and refresh instead of proceeding with a dead token.
	go func() {
		time.Sleep(2 * time.Millisecond)
		locks.Release(context.Background(), record.LockKey("session-1"))
	}()

	refreshed, status, err := coordinator.EnsureFresh(context.Background(), "session-1", expired)
	require.NoError(t, err)
	require.Equal(t, refresh.StatusRefreshed, status)
	require.Equal(t, "current", refreshed.AccessToken)
	require.EqualValues(t, 1, atomic.LoadInt32(&refresher.calls))
}

func TestExpiredTokenSkipsWhenLockStaysHeld(t *testing.T) {
	store := recordfake.New()
	locks := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	refresher := &fakeRefresher{result: freshIdentity()}
	coordinator := refresh.NewCoordinator(locks, refresher, newFakePersister(), 5*time.Minute, zerolog.Nop(),
		refresh.WithLockRetry(2, time.Millisecond))

	expired := freshIdentity()
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	held, err := locks.Acquire(context.Background(), record.LockKey("session-1"))
	require.NoError(t, err)
	require.True(t, held)

	same, status, err := coordinator.EnsureFresh(context.Background(), "session-1", expired)
	require.NoError(t, err)
	require.Equal(t, refresh.StatusSkipped, status)
	require.Equal(t, expired, same)
	require.EqualValues(t, 0, atomic.LoadInt32(&refresher.calls))
}
