// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the expiring in-process cache used for credentials,
// cluster endpoints and metadata, plus the Store abstraction that lets
// metadata snapshots live in Redis or Valkey instead.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultCleanupInterval = 5 * time.Minute

type item[V any] struct {
	value     V
	ttl       time.Duration
	expiresAt time.Time // zero means the item never expires
}

func (i item[V]) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// OnEvictFunc is called with the write lock held whenever an item leaves the
// cache, either replaced, deleted or expired.
type OnEvictFunc[V any] func(key string, value V)

type options struct {
	ttl             time.Duration
	sliding         bool
	cleanupInterval time.Duration
	now             func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithTTL expires items a fixed duration after they were set.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl, o.sliding = d, false }
}

// WithSlidingTTL expires items a fixed duration after they were last read or
// written.
func WithSlidingTTL(d time.Duration) Option {
	return func(o *options) { o.ttl, o.sliding = d, true }
}

// WithCleanupInterval overrides how often expired items are swept.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Cache is a thread-safe, string keyed store with optional expiry. The zero
// TTL keeps items for the life of the cache.
type Cache[V any] struct {
	mu      sync.RWMutex
	items   map[string]item[V]
	opts    options
	onEvict OnEvictFunc[V]
	group   singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache. When items can expire a background sweep removes them
// every cleanup interval until Close is called.
func New[V any](onEvict OnEvictFunc[V], opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[V]{
		items:   make(map[string]item[V]),
		opts:    o,
		onEvict: onEvict,
		stop:    make(chan struct{}),
	}
	if o.ttl > 0 {
		interval := o.cleanupInterval
		if interval <= 0 {
			interval = defaultCleanupInterval
		}
		go c.startCleanup(interval)
	}
	return c
}

func (c *Cache[V]) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.DeleteExpired()
		}
	}
}

// Close stops the background sweep. The cache stays usable.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// delete assumes the write lock is held.
func (c *Cache[V]) delete(key string, it item[V]) {
	delete(c.items, key)
	if c.onEvict != nil {
		c.onEvict(key, it.value)
	}
}

// Set stores value under key using the cache TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.opts.ttl)
}

// SetWithTTL stores value under key with its own TTL. A TTL of zero or less
// keeps the item until it is deleted.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	it := item[V]{value: value, ttl: ttl}
	if ttl > 0 {
		it.expiresAt = c.opts.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, found := c.items[key]; found {
		c.delete(key, old)
	}
	c.items[key] = it
}

// Get returns the value stored under key. With a sliding TTL a hit pushes the
// expiry forward.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.opts.now()
	if !c.opts.sliding {
		c.mu.RLock()
		defer c.mu.RUnlock()
		it, found := c.items[key]
		if !found || it.expired(now) {
			var zero V
			return zero, false
		}
		return it.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	it, found := c.items[key]
	if !found || it.expired(now) {
		var zero V
		return zero, false
	}
	if it.ttl > 0 {
		it.expiresAt = now.Add(it.ttl)
		c.items[key] = it
	}
	return it.value, true
}

// GetOrLoad returns the cached value for key or calls load once, even under
// concurrent misses, and caches a successful result. The shared load does not
// see the cancellation of the caller that started it; each caller stops
// waiting when its own ctx is done.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Delete manually evicts an item.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, found := c.items[key]; found {
		c.delete(key, it)
	}
}

// DeleteExpired removes all expired items.
func (c *Cache[V]) DeleteExpired() {
	now := c.opts.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, it := range c.items {
		if it.expired(now) {
			c.delete(key, it)
		}
	}
}

// Len reports the number of stored items, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
