package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPingTimeout bounds the startup PING when New is given zero.
const DefaultPingTimeout = 5 * time.Second

// New creates the Redis client shared by the lock service and the job queue.
func New(ctx context.Context, addr string, pingTimeout time.Duration) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("platform/cache: address required")
	}
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := Probe(client, pingTimeout)(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Probe returns a readiness check that pings the client.
func Probe(client redis.UniversalClient, timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("platform/cache: client not configured")
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("platform/cache: ping: %w", err)
		}
		return nil
	}
}
