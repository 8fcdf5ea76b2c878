package redis

import (
	"context"
	"time"
)

// Client represents a Redis client interface for testing and abstraction
type Client interface {
	// HSet sets the given fields of a hash
	HSet(ctx context.Context, key string, values map[string]interface{}) error

	// HGetAll gets all fields from a hash; a missing key yields an empty map
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HDel removes fields from a hash
	HDel(ctx context.Context, key string, fields ...string) error

	// Expire sets a TTL on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping checks the connection to Redis
	Ping(ctx context.Context) error

	// Close closes the Redis connection
	Close() error
}
