package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saasbridge/gateway/internal/errors"
)

// storedValue wraps every record with its own deadline so expiry can be
// checked at read time independently of the store's native TTL.
type storedValue struct {
	Value     []byte    `json:"v"`
	ExpiresAt time.Time `json:"exp"`
}

// RedisStore implements Store on a Redis-compatible backend. SET NX gives
// the atomic create-if-absent write, GETDEL the atomic read-and-delete,
// and PX the native per-key expiry.
type RedisStore struct {
	client  redis.UniversalClient
	nowTime func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, nowTime: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload, err := s.encode(value, ttl)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("[RedisStore.Put] %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload, err := s.encode(value, ttl)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("[RedisStore.PutIfAbsent] %s: %w", key, err)
	}
	if !ok {
		return errors.ErrConditionFailed
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisStore.Get] %s: %w", key, err)
	}

	value, expired, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	if expired {
		// Native TTL lagged; remove the stale record best-effort.
		_ = s.client.Del(ctx, key).Err()
		return nil, errors.ErrNotFound
	}
	return value, nil
}

func (s *RedisStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisStore.GetDel] %s: %w", key, err)
	}

	value, expired, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errors.ErrNotFound
	}
	return value, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("[RedisStore.Delete] %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) encode(value []byte, ttl time.Duration) ([]byte, error) {
	payload, err := json.Marshal(storedValue{Value: value, ExpiresAt: s.nowTime().Add(ttl)})
	if err != nil {
		return nil, fmt.Errorf("[RedisStore.encode] marshal: %w", err)
	}
	return payload, nil
}

func (s *RedisStore) decode(payload []byte) (value []byte, expired bool, err error) {
	var sv storedValue
	if err := json.Unmarshal(payload, &sv); err != nil {
		return nil, false, fmt.Errorf("[RedisStore.decode] unmarshal: %w", err)
	}
	return sv.Value, s.nowTime().After(sv.ExpiresAt), nil
}
