// Package lock provides a Redis-backed mutual exclusion lease so background
// jobs run on one replica at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wallet:lock:"

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect parses a redis:// URL and verifies connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

type RedisLocker struct {
	client lockClient
}

func NewRedisLocker(client lockClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Lease is a held lock.
type Lease struct {
	client redis.Scripter
	key    string
	owner  string
}

// Acquire takes the named lock for ttl. It returns nil without error when
// another owner holds it.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	key := keyPrefix + name
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("Acquire: setnx: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: l.client, key: key, owner: owner}, nil
}

// Release frees the lock if this lease still owns it. An expired lease that
// was taken over by another owner is left alone.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, ls.client, []string{ls.key}, ls.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}
