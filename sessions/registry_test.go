package sessions_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/saasbridge/gateway/sessions"
	"github.com/saasbridge/gateway/upstream"
)

func TestRegisterResolveUnregister(t *testing.T) {
	r := sessions.NewRegistry(zerolog.Nop())

	identity := &upstream.Identity{Email: "user@example.com"}
	r.Register("s1", identity, nil)

	got, ok := r.Resolve("s1")
	require.True(t, ok)
	require.Equal(t, "user@example.com", got.Email)

	_, ok = r.Resolve("s2")
	require.False(t, ok)

	r.Unregister("s1")
	_, ok = r.Resolve("s1")
	require.False(t, ok)
}

func TestUpdateIdentity(t *testing.T) {
	r := sessions.NewRegistry(zerolog.Nop())
	r.Register("s1", &upstream.Identity{AccessToken: "old"}, nil)

	r.UpdateIdentity("s1", &upstream.Identity{AccessToken: "new"})
	got, ok := r.Resolve("s1")
	require.True(t, ok)
	require.Equal(t, "new", got.AccessToken)

	// Updating a session that disconnected mid-refresh is a no-op.
	r.UpdateIdentity("gone", &upstream.Identity{AccessToken: "x"})
}

func TestCloseAllSweepsEverySession(t *testing.T) {
	r := sessions.NewRegistry(zerolog.Nop())

	var mu sync.Mutex
	closed := map[string]bool{}

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		r.Register(id, &upstream.Identity{}, func() error {
			mu.Lock()
			defer mu.Unlock()
			closed[id] = true
			if id == "s2" {
				return fmt.Errorf("transport already gone")
			}
			return nil
		})
	}

	r.CloseAll()

	// Every close hook ran despite s2 failing, and the registry drained.
	require.Len(t, closed, 5)
	require.Zero(t, r.Len())
}

func TestConcurrentAccess(t *testing.T) {
	r := sessions.NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			r.Register(id, &upstream.Identity{}, nil)
			r.Resolve(id)
			r.UpdateIdentity(id, &upstream.Identity{AccessToken: "t"})
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 25, r.Len())
}
