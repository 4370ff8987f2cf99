package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/redis"
)

// RevocationPolicy decides what happens to a request when the revocation
// cache cannot be reached.
type RevocationPolicy string

const (
	// RevocationFailOpen treats an unreachable cache as "not revoked".
	RevocationFailOpen RevocationPolicy = "fail_open"
	// RevocationFailClosed rejects the request.
	RevocationFailClosed RevocationPolicy = "fail_closed"
)

// ParseRevocationPolicy validates s. There is no default.
func ParseRevocationPolicy(s string) (RevocationPolicy, error) {
	switch p := RevocationPolicy(s); p {
	case RevocationFailOpen, RevocationFailClosed:
		return p, nil
	default:
		return "", fmt.Errorf("%w: revocation failure policy must be %q or %q", ErrValidation, RevocationFailOpen, RevocationFailClosed)
	}
}

// RevocationCache marks access tokens as revoked until they would have
// expired anyway.
type RevocationCache interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisRevocationCache stores one expiring key per revoked token, keyed by
// the token's SHA-256 digest.
type RedisRevocationCache struct {
	client *redis.Client
}

// NewRevocationCache creates a Redis-backed revocation cache.
func NewRevocationCache(client *redis.Client) *RedisRevocationCache {
	return &RedisRevocationCache{client: client}
}

func (c *RedisRevocationCache) key(token string) string {
	return c.client.Key("revoked:" + HashToken(token))
}

// Revoke records token for ttl. A non-positive ttl means the token has
// already expired and nothing is written.
func (c *RedisRevocationCache) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := c.client.Context(ctx)
	defer cancel()

	if err := c.client.Redis().Set(ctx, c.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsRevoked reports whether token has a live revocation entry.
func (c *RedisRevocationCache) IsRevoked(ctx context.Context, token string) (bool, error) {
	ctx, cancel := c.client.Context(ctx)
	defer cancel()

	n, err := c.client.Redis().Exists(ctx, c.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}
