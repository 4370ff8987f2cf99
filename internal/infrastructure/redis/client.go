package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

const (
	dialTimeout    = 5 * time.Second
	connectTimeout = 5 * time.Second

	// defaultCommandTimeout applies when redis.timeout is unset.
	defaultCommandTimeout = 250 * time.Millisecond
)

// Client wraps a go-redis client with key namespacing and per-command
// timeouts.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	rdb       *goredis.Client
	keyPrefix string
	timeout   time.Duration
}

// New parses cfg.URL and applies overrides without touching the network.
// The pool dials lazily and redials after failures, so a client built while
// the server is down starts working once it comes back.
func New(cfg config.RedisConfig) (*Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	timeout := cfg.CacheTimeout()
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	return &Client{
		rdb:       goredis.NewClient(opts),
		keyPrefix: cfg.KeyPrefix,
		timeout:   timeout,
	}, nil
}

// Connect is New followed by a PING. On failure the client is closed.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.rdb.Ping(pingCtx).Err(); err != nil {
		c.rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// Key returns name prefixed with the configured namespace.
func (c *Client) Key(name string) string {
	return c.keyPrefix + name
}

// Context derives a context bounded by the per-command timeout.
func (c *Client) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Redis returns the underlying go-redis client.
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := c.Context(ctx)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis: %w", err)
	}
	return nil
}
