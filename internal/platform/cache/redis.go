package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes the Redis client. Zero durations use the package defaults.
type Options struct {
	Addr        string
	DialTimeout time.Duration
	IOTimeout   time.Duration
	PingTimeout time.Duration
}

const (
	defaultDialTimeout = 2 * time.Second
	defaultIOTimeout   = time.Second
	defaultPingTimeout = 5 * time.Second
)

// New creates a Redis client and pings it. The client is returned even when the
// ping fails so callers may degrade to uncached reads.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaultIOTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.IOTimeout,
		WriteTimeout: opts.IOTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
