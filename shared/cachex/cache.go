package cachex

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"intelligence-control-plane/shared/config"
)

// Client wraps the Redis connection used for session revocation state. The
// control plane never stores coordination state here; Redis holds only the
// current token version per subject.
type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return errors.New("redis client not initialized")
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

const tokenVersionPrefix = "auth:token_version:"

// CurrentTokenVersion returns the minimum acceptable token version for a
// subject. ok is false when no revocation record exists, in which case any
// token version is acceptable.
func (c *Client) CurrentTokenVersion(ctx context.Context, subject string) (int, bool, error) {
	if c == nil || c.redis == nil {
		return 0, false, errors.New("redis client not initialized")
	}
	raw, err := c.redis.Get(ctx, tokenVersionPrefix+subject).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// BumpTokenVersion raises the minimum acceptable token version, invalidating
// every token issued with a lower one.
func (c *Client) BumpTokenVersion(ctx context.Context, subject string) (int, error) {
	if c == nil || c.redis == nil {
		return 0, errors.New("redis client not initialized")
	}
	n, err := c.redis.Incr(ctx, tokenVersionPrefix+subject).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
