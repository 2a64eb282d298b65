package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV persists sessions in Redis. Multi-key writes run in MULTI/EXEC so a
// crash never leaves half a session behind.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV wraps rdb.
func NewRedisKV(rdb *redis.Client) *RedisKV {
	if rdb == nil {
		panic("booking: redis client cannot be nil")
	}
	return &RedisKV{rdb: rdb}
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("booking: redis get: %w", err)
	}
	return data, true, nil
}

// Apply implements KV.
func (r *RedisKV) Apply(ctx context.Context, sets map[string][]byte, dels []string, ttl time.Duration) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(dels) > 0 {
			pipe.Del(ctx, dels...)
		}
		for key, value := range sets {
			pipe.Set(ctx, key, value, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("booking: redis apply: %w", err)
	}
	return nil
}
