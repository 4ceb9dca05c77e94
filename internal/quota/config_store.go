package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const configKeyPrefix = "chatbot:config:"

// RedisConfigStore keeps global counters as plain string keys in Redis.
type RedisConfigStore struct {
	rdb redis.Cmdable
}

// NewRedisConfigStore creates a new Redis-backed ConfigStore.
func NewRedisConfigStore(rdb redis.Cmdable) *RedisConfigStore {
	return &RedisConfigStore{rdb: rdb}
}

func (s *RedisConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, configKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting config %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisConfigStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, configKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("setting config %s: %w", key, err)
	}
	return nil
}
