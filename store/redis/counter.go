// Package redis provides a Redis-backed voucher number counter for
// deployments where several server instances share numbering.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/jobwork-ledger/generic"
)

const defaultKeyPrefix = "jobwork:voucher-counter:"

// seedScript raises the counter to ARGV[1] if it is lower.
var seedScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if cur < floor then
	redis.call("SET", KEYS[1], floor)
	return floor
end
return cur
`)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Counter implements generic.Counter with INCR.
type Counter struct {
	client    *redis.Client
	keyPrefix string
}

var _ generic.Counter = (*Counter)(nil)

// NewCounter connects to Redis and verifies the connection.
func NewCounter(cfg Config) (*Counter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewCounterWithClient(client, ""), nil
}

// NewCounterWithClient wraps an existing client.
func NewCounterWithClient(client *redis.Client, keyPrefix string) *Counter {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Counter{client: client, keyPrefix: keyPrefix}
}

// Next increments the scope's counter atomically.
func (c *Counter) Next(ctx context.Context, scope string) (int64, error) {
	n, err := c.client.Incr(ctx, c.keyPrefix+scope).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", scope, err)
	}
	return n, nil
}

// Seed raises the scope's counter to at least floor.
func (c *Counter) Seed(ctx context.Context, scope string, floor int64) error {
	if err := seedScript.Run(ctx, c.client, []string{c.keyPrefix + scope}, floor).Err(); err != nil {
		return fmt.Errorf("failed to seed counter %s: %w", scope, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Counter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Counter) Close() error {
	return c.client.Close()
}
