// Package cache keeps the short lived state of the bot in Redis: the cached coin price and the per user command
// counters. A nil *Cache is valid and caches nothing.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	priceKey      = "sw:price:usd"
	rateKeyPrefix = "sw:rl:"
)

// Cache wraps a Redis client.
type Cache struct {
	rdb      *redis.Client
	priceTTL time.Duration
	limit    int
}

// Options for the cache.
type Options struct {
	PriceTTL time.Duration
	CmdLimit int // commands per user per minute, 0 is unlimited
}

// New connects to the Redis server at url and verifies connectivity.
func New(ctx context.Context, url string, opts Options) (*Cache, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(rdb, opts), nil
}

// NewWithClient uses an existing client.
func NewWithClient(rdb *redis.Client, opts Options) *Cache {
	return &Cache{rdb: rdb, priceTTL: opts.PriceTTL, limit: opts.CmdLimit}
}

// Close closes the client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}

	return c.rdb.Close()
}

// Price returns the cached price, false on a miss or any error.
func (c *Cache) Price(ctx context.Context) (decimal.Decimal, bool) {
	if c == nil || c.priceTTL <= 0 {
		return decimal.Zero, false
	}

	s, err := c.rdb.Get(ctx, priceKey).Result()
	if err != nil {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}

	return d, true
}

// SetPrice caches price for the configured TTL.
func (c *Cache) SetPrice(ctx context.Context, price decimal.Decimal) error {
	if c == nil || c.priceTTL <= 0 {
		return nil
	}

	return c.rdb.Set(ctx, priceKey, price.String(), c.priceTTL).Err()
}

// Allow counts one command for user in the current minute window and tells whether it is within the limit. Cache
// errors allow the command.
func (c *Cache) Allow(ctx context.Context, user string) bool {
	if c == nil || c.limit <= 0 {
		return true
	}

	key := rateKeyPrefix + user

	cnt, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true // fail-open on cache errors
	}

	if cnt == 1 {
		c.rdb.Expire(ctx, key, time.Minute)
	}

	return cnt <= int64(c.limit)
}
