package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the hit history in a shared Redis instance so limits
// hold across multiple server processes. Keys expire after the window,
// so no explicit sweep is needed.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "ratelimit:"}
}

func (s *RedisStore) Hits(ctx context.Context, key string) ([]int64, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var hits []int64
	if err := json.Unmarshal([]byte(val), &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (s *RedisStore) SetHits(ctx context.Context, key string, hits []int64, ttl time.Duration) error {
	data, err := json.Marshal(hits)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+key, data, ttl).Err()
}
