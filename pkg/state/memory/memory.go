// Package memory implements C10's memory backend: a concurrent, bounded
// cache with lazy TTL expiry, backed by github.com/dgraph-io/ristretto so
// cache_capacity directly exercises ristretto's own cost-based eviction
// rather than a hand-rolled LRU.
package memory

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/state"
)

// defaultMaxCost is used when a StateConfig does not set CacheCapacity.
const defaultMaxCost = 1 << 24 // 16MiB

// Backend is a state.Manager backed by an in-process ristretto cache.
type Backend struct {
	cache *ristretto.Cache[string, []byte]
}

var _ state.Manager = (*Backend)(nil)

// New builds a memory Backend sized by cfg.CacheCapacity (ristretto's
// MaxCost, in bytes of estimated value size).
func New(cfg config.StateConfig) (*Backend, error) {
	maxCost := cfg.CacheCapacity
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e7,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, pforgeerrors.NewInvalidConfigError("create memory state cache", err)
	}
	return &Backend{cache: cache}, nil
}

// Get returns the cached value for key. Expiry is ristretto's own lazy TTL:
// an expired entry simply misses.
func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Set stores value under key, costed by its byte length. A zero ttl means
// no expiry. Wait() is called so the set is visible to an immediately
// following Get, at the cost of synchronous write latency.
func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cost := int64(len(value))
	var ok bool
	if ttl > 0 {
		ok = b.cache.SetWithTTL(key, value, cost, ttl)
	} else {
		ok = b.cache.Set(key, value, cost)
	}
	b.cache.Wait()
	if !ok {
		return pforgeerrors.NewIoError("state cache rejected set for key "+key, nil)
	}
	return nil
}

// Delete removes key from the cache. Deleting an absent key is not an
// error.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.cache.Del(key)
	return nil
}

// Exists reports whether key is currently present and unexpired.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := b.cache.Get(key)
	return ok, nil
}

// Close releases the underlying cache's background goroutines.
func (b *Backend) Close() error {
	b.cache.Close()
	return nil
}
