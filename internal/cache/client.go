package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evalhub/results-engine/internal/common"
)

// Client wraps the shared Redis substrate with the JSON get/set surface
// the aggregate readers and writers use. The job store reaches the raw
// client through Redis() for its sorted-set bookkeeping.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// Config mirrors common.RedisConfig so the package stays importable from
// tests without pulling the whole app config.
type Config struct {
	URL         string
	DialTimeout time.Duration
}

// New connects to Redis from a URL (redis://host:port/db).
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Error("invalid redis url", zap.Error(err))
		return nil, common.WrapError(err, "parse redis url")
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return &Client{rdb: redis.NewClient(opts), logger: logger}, nil
}

// NewWithClient wraps an existing client; used by tests running against
// an embedded Redis.
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Redis exposes the underlying client for callers that need command
// families beyond JSON values (sorted sets, hashes, sets).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return common.NewAppError("CACHE_UNAVAILABLE", "redis ping failed", common.ErrUnavailable)
	}
	return nil
}

// GetJSON loads key into dest. Returns false with a nil error on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return false, common.WrapError(err, "cache get")
	}
	if err := json.Unmarshal(b, dest); err != nil {
		c.logger.Error("cache value corrupt", zap.String("key", key), zap.Error(err))
		return false, common.WrapError(err, "cache decode")
	}
	return true, nil
}

// SetJSON stores value under key with a TTL. A zero TTL stores without
// expiry.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return common.WrapError(err, "cache encode")
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		c.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return common.WrapError(err, "cache set")
	}
	return nil
}

// Delete removes a single key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Error("cache delete failed", zap.String("key", key), zap.Error(err))
		return common.WrapError(err, "cache delete")
	}
	return nil
}

// DeleteByPrefix removes every key under a prefix via SCAN, returning
// the number of keys dropped. Used for bulk ranking invalidation.
func (c *Client) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, common.WrapError(err, "cache delete by prefix")
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("cache scan failed", zap.String("prefix", prefix), zap.Error(err))
		return deleted, common.WrapError(err, "cache scan")
	}
	return deleted, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
