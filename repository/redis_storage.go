package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/redis/go-redis/v9"
)

var _ gate.LocalStorage = (*RedisStorage)(nil)

const defaultRedisPrefix = "tourgate"

// RedisStorage implements gate.LocalStorage on Redis so several front end
// instances share the same client records.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStorage creates a storage using client. A zero ttl keeps keys
// until deleted.
func NewRedisStorage(client redis.UniversalClient, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
	}
}

// WithPrefix changes the key namespace.
func (s *RedisStorage) WithPrefix(prefix string) *RedisStorage {
	if prefix != "" {
		s.prefix = prefix
	}
	return s
}

// Key returns the redis key for the client value.
func (s *RedisStorage) Key(clientID, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, clientID, key)
}

// Get implements gate.LocalStorage.
func (s *RedisStorage) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.Key(clientID, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set implements gate.LocalStorage.
func (s *RedisStorage) Set(ctx context.Context, clientID, key, value string) error {
	return s.client.Set(ctx, s.Key(clientID, key), value, s.ttl).Err()
}

// Delete implements gate.LocalStorage.
func (s *RedisStorage) Delete(ctx context.Context, clientID, key string) error {
	return s.client.Del(ctx, s.Key(clientID, key)).Err()
}
