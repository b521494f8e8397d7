package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMedium stores records as plain Redis strings.
type RedisMedium struct {
	rdb *redis.Client
	// retention caps how long a record survives without being rewritten. It
	// must outlive every staleness window enforced by the stores.
	retention time.Duration
}

// NewRedisMedium creates a RedisMedium. A zero retention keeps records forever.
func NewRedisMedium(rdb *redis.Client, retention time.Duration) *RedisMedium {
	return &RedisMedium{rdb: rdb, retention: retention}
}

func (m *RedisMedium) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (m *RedisMedium) Set(ctx context.Context, key string, value []byte) error {
	if err := m.rdb.Set(ctx, key, value, m.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (m *RedisMedium) Delete(ctx context.Context, key string) error {
	if err := m.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys walks the keyspace with SCAN so large namespaces never block Redis.
func (m *RedisMedium) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := m.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return keys, nil
}
