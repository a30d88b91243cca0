// Package memcache implements a simple typed in-memory cache with expiring items.
package memcache

import (
	"log/slog"
	"sync"
	"time"
)

const (
	cleanUpTimeOutDefault = time.Minute * 10
)

// Cache is an in-memory cache mapping keys of type K to values of type V.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu     sync.RWMutex
	items  map[K]item[V]
	closeC chan struct{}
	once   sync.Once

	// Now returns the current time. Tests can replace it.
	Now func() time.Time
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a new cache with default clean-up interval and returns it.
//
// Users can close the cache to free allocated resources when the cache is no longer needed.
func New[K comparable, V any]() *Cache[K, V] {
	return NewWithTimeout[K, V](cleanUpTimeOutDefault)
}

// NewWithTimeout creates a new cache with a specific interval for the regular clean-up and returns it.
//
// A timeout of 0 disables the automatic clean-up and users then need to start clean-up manually.
func NewWithTimeout[K comparable, V any](cleanUpTimeout time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		items:  make(map[K]item[V]),
		closeC: make(chan struct{}),
		Now:    time.Now,
	}
	if cleanUpTimeout > 0 {
		go func() {
			ticker := time.NewTicker(cleanUpTimeout)
			defer ticker.Stop()
			for {
				select {
				case <-c.closeC:
					slog.Debug("cache closed")
					return
				case <-ticker.C:
				}
				c.CleanUp()
			}
		}()
	}
	return c
}

// CleanUp removes all expired items and returns how many were removed.
func (c *Cache[K, V]) CleanUp() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	var n int
	for k, it := range c.items {
		if it.isExpired(now) {
			delete(c.items, k)
			n++
		}
	}
	if n > 0 {
		slog.Debug("cache clean-up: completed", "removed", n)
	}
	return n
}

// Close stops the automatic clean-up. Closing a cache more then once is a no-op.
func (c *Cache[K, V]) Close() {
	c.once.Do(func() {
		close(c.closeC)
	})
}

// Get returns the value of an item that exists and is not expired.
// It also reports whether the item was found.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[key]
	if !ok || it.isExpired(c.Now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores an item in the cache.
//
// If an item with the same key already exists it will be overwritten.
// An item with timeout = 0 never expires
func (c *Cache[K, V]) Set(key K, value V, timeout time.Duration) {
	var at time.Time
	if timeout > 0 {
		at = c.Now().Add(timeout)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: at}
}

func (it item[V]) isExpired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}
