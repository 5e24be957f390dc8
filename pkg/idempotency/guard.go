package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "payment:inflight:"

// Guard marks payment refs as in flight in Redis so that only one process
// works on a ref at a time. The TTL bounds how long a crashed holder blocks it.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGuard creates a guard whose holds expire after ttl.
func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	return &Guard{client: client, ttl: ttl}
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func key(ref string) string {
	return keyPrefix + ref
}

// Acquire reports whether the caller now holds ref.
func (g *Guard) Acquire(ctx context.Context, ref string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key(ref), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key(ref), err)
	}
	return ok, nil
}

// Release frees the ref for other processes.
func (g *Guard) Release(ctx context.Context, ref string) error {
	if err := g.client.Del(ctx, key(ref)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key(ref), err)
	}
	return nil
}
