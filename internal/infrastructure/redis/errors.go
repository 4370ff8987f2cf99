package redis

import "errors"

// Domain-specific errors for Redis operations.
var (
	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrInvalidURL is returned when redis.url cannot be parsed.
	ErrInvalidURL = errors.New("redis: invalid url")
)
