// Package cachemanager wraps go-cache behind typed interfaces. The
// runtime keeps two caches: resolved renderer implementations (no
// expiry, process lifetime) and the transport's recent-message-id
// window (short TTL, drives at-most-once delivery).
package cachemanager

import (
	"context"
	"time"
)

// NoExpiration marks entries that live for the process lifetime.
const NoExpiration time.Duration = -1

type CacheManager[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	// Add stores the value only if the key is absent. Returns false when
	// the key already exists.
	Add(ctx context.Context, key string, value V, ttl time.Duration) bool
	Delete(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}
