// Package store provides the durable key-value layer the local cache is
// built on. Keys are opaque strings; callers namespace them by scope.
package store

import "context"

// KV is a persisted key-value store. Get returns (nil, nil) for a missing
// key. Nothing is transactional across keys: a crash between two Sets may
// leave only the first one applied.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	RemoveAll(ctx context.Context, keys []string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
