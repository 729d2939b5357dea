package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/saasbridge/gateway/lock"
	"github.com/saasbridge/gateway/record"
	"github.com/saasbridge/gateway/record/recordfake"
)

func TestAcquireRelease(t *testing.T) {
	store := recordfake.New()
	m := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	ctx := context.Background()
	key := record.LockKey("session-1")

	acquired, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, acquired)

	// Second acquire on a held lock returns false, not an error.
	acquired, err = m.Acquire(ctx, key)
	require.NoError(t, err)
	require.False(t, acquired)

	m.Release(ctx, key)

	acquired, err = m.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestAtMostOneHolderUnderContention(t *testing.T) {
	store := recordfake.New()
	m := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	ctx := context.Background()
	key := record.LockKey("contended")

	const contenders = 32
	var wg sync.WaitGroup
	winners := make(chan struct{}, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired, err := m.Acquire(ctx, key)
			require.NoError(t, err)
			if acquired {
				winners <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	require.Equal(t, 1, count)
}

func TestLeaseExpiresAfterTTL(t *testing.T) {
	store := recordfake.New()
	now := time.Now()
	store.NowTime = func() time.Time { return now }

	m := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	ctx := context.Background()
	key := record.LockKey("crashed-holder")

	acquired, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, acquired)

	// Holder crashes and never releases; the lease lapses on its own.
	now = now.Add(31 * time.Second)

	acquired, err = m.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestAcquireWithRetry(t *testing.T) {
	store := recordfake.New()
	m := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	ctx := context.Background()
	key := record.LockKey("retry")

	acquired, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, acquired)

	// Held elsewhere: retries are exhausted and the caller gets false.
	acquired, err = m.AcquireWithRetry(ctx, key, 3, time.Millisecond)
	require.NoError(t, err)
	require.False(t, acquired)

	m.Release(ctx, key)

	acquired, err = m.AcquireWithRetry(ctx, key, 3, time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestAcquireWithRetryHonoursContext(t *testing.T) {
	store := recordfake.New()
	m := lock.NewManager(store, 30*time.Second, zerolog.Nop())
	key := record.LockKey("cancelled")

	_, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.AcquireWithRetry(ctx, key, 5, 10*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}
