package repository

import (
	"context"
	"time"
)

// KVStore is a bare TTL key-value store.
//
// It deliberately offers no enumeration: the cache keeps its own key index
// on top of it so that any backend with Get/Set/Delete can host it.
// Expired entries must be reported as missing by Get.
type KVStore interface {
	// Get returns the value for key. ok is false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key. ttl <= 0 stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether a live entry existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// ExpiredSweeper is implemented by stores that can physically remove
// expired entries. Stores with native expiry (Redis) do not need it.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}
