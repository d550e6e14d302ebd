package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the subset of redis.Cmdable used for usage tracking.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisUsage counts key usage in redis instead of the database. Counters are
// keyed by key hash so plain keys never reach redis.
type RedisUsage struct {
	Client Counter
	Prefix string
	Now    func() time.Time
}

func NewRedisUsage(client Counter) *RedisUsage {
	return &RedisUsage{Client: client, Prefix: "valentin:key_usage:", Now: time.Now}
}

func (u *RedisUsage) Track(ctx context.Context, key string) error {
	h := HashKey(key)
	if err := u.Client.Incr(ctx, u.Prefix+h+":count").Err(); err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	if err := u.Client.Set(ctx, u.Prefix+h+":last_used", now().UTC().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("recording last use: %w", err)
	}
	return nil
}
