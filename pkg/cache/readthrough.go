// Package cache provides a process-wide read-through cache with an explicit TTL.
//
// A Get inside the TTL returns the cached value. A Get after the TTL (or on first use)
// calls the loader. When the loader fails the last good value keeps being served
// (stale-on-error); if there never was one the configured fallback is returned.
package cache

import (
	"context"
	"sync"
	"time"
)

// Loader fetches a fresh value.
type Loader[V any] func(ctx context.Context) (V, error)

// ReadThrough caches a single value produced by a Loader.
type ReadThrough[V any] struct {
	mu        sync.RWMutex
	ttl       time.Duration
	load      Loader[V]
	fallback  V
	value     V
	loaded    bool
	expiresAt time.Time
	now       func() time.Time
	onError   func(error)
}

// Option configures a ReadThrough.
type Option[V any] func(*ReadThrough[V])

// WithFallback sets the value returned when nothing was ever loaded successfully.
func WithFallback[V any](v V) Option[V] {
	return func(c *ReadThrough[V]) { c.fallback = v }
}

// WithClock overrides time.Now.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *ReadThrough[V]) { c.now = now }
}

// WithErrorHandler receives loader errors (e.g. for logging).
func WithErrorHandler[V any](fn func(error)) Option[V] {
	return func(c *ReadThrough[V]) { c.onError = fn }
}

// NewReadThrough creates a cache around load with the given TTL.
func NewReadThrough[V any](ttl time.Duration, load Loader[V], opts ...Option[V]) *ReadThrough[V] {
	c := &ReadThrough[V]{ttl: ttl, load: load, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value, refreshing it when the TTL has elapsed.
func (c *ReadThrough[V]) Get(ctx context.Context) V {
	c.mu.RLock()
	if c.loaded && c.now().Before(c.expiresAt) {
		v := c.value
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have refreshed while we waited for the write lock.
	if c.loaded && c.now().Before(c.expiresAt) {
		return c.value
	}
	v, err := c.load(ctx)
	if err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		if c.loaded {
			// Retry no sooner than one TTL from now.
			c.expiresAt = c.now().Add(c.ttl)
			return c.value
		}
		return c.fallback
	}
	c.value = v
	c.loaded = true
	c.expiresAt = c.now().Add(c.ttl)
	return v
}

// Invalidate forces the next Get to reload.
func (c *ReadThrough[V]) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
