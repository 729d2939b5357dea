// Package recordfake provides an in-memory Store for tests. It honours the
// same expiry-at-read semantics as the Redis implementation and exposes an
// injectable clock so expiry behaviour can be tested without sleeping.
package recordfake

import (
	"context"
	"sync"
	"time"

	"github.com/saasbridge/gateway/internal/errors"
	"github.com/saasbridge/gateway/record"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

type FakeStore struct {
	mu      sync.Mutex
	items   map[string]item
	NowTime func() time.Time

	// KeepExpired disables physical removal of expired records so tests
	// can verify that reads still treat them as absent.
	KeepExpired bool
}

var _ record.Store = (*FakeStore)(nil)

func New() *FakeStore {
	return &FakeStore{
		items:   make(map[string]item),
		NowTime: time.Now,
	}
}

func (f *FakeStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = item{value: cloneBytes(value), expiresAt: f.NowTime().Add(ttl)}
	return nil
}

func (f *FakeStore) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.items[key]; ok && !f.NowTime().After(existing.expiresAt) {
		return errors.ErrConditionFailed
	}
	f.items[key] = item{value: cloneBytes(value), expiresAt: f.NowTime().Add(ttl)}
	return nil
}

func (f *FakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.items[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if f.NowTime().After(existing.expiresAt) {
		if !f.KeepExpired {
			delete(f.items, key)
		}
		return nil, errors.ErrNotFound
	}
	return cloneBytes(existing.value), nil
}

func (f *FakeStore) GetDel(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.items[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	delete(f.items, key)
	if f.NowTime().After(existing.expiresAt) {
		return nil, errors.ErrNotFound
	}
	return cloneBytes(existing.value), nil
}

func (f *FakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

// Len reports the number of records currently held, expired or not.
func (f *FakeStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
