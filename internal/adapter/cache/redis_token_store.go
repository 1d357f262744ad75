package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lanternauth/lantern/internal/repository"
)

// RedisTokenStore implements repository.TokenStore backed by Redis. Each store
// instance owns a key prefix so the CSRF and authorization-code namespaces
// never collide.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

var _ repository.TokenStore = (*RedisTokenStore)(nil)

// NewRedisTokenStore constructs a Redis-backed token store under the prefix.
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: prefix}
}

// Put stores the value with a native Redis TTL.
func (s *RedisTokenStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// Get loads the value, returning (nil, nil) when the key is absent or expired.
func (s *RedisTokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	return value, nil
}

// Consume atomically reads and deletes the key. A second Consume of the same
// key observes absence, which is what makes one-time tokens one-time.
func (s *RedisTokenStore) Consume(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return value, nil
}

// Delete removes the key if present.
func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
