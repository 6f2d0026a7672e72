package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value with its expiry deadline.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Store is the backing key-value store for a TTLCache. Implementations may
// fail on any operation; the cache treats every store error as a miss and
// reports it via the error handler, so a broken store degrades the cache to
// pass-through rather than breaking callers.
type Store[V any] interface {
	Get(key string) (Entry[V], bool, error)
	Set(key string, e Entry[V]) error
	Delete(key string) error
	Keys() ([]string, error)
}

// TTLCache is a TTL cache with in-flight request coalescing. Concurrent
// GetOrLoad calls for the same key share a single loader invocation via
// singleflight. Expired entries are evicted lazily on read or via
// PurgeExpired.
type TTLCache[V any] struct {
	store      Store[V]
	group      singleflight.Group
	defaultTTL time.Duration
	onError    func(op string, err error)
	now        func() time.Time
}

// Option configures a TTLCache.
type Option[V any] func(*TTLCache[V])

// WithStore replaces the default in-memory store.
func WithStore[V any](s Store[V]) Option[V] {
	return func(c *TTLCache[V]) {
		c.store = s
	}
}

// WithErrorHandler sets the callback invoked when a store operation fails.
// The cache recovers from every store failure; the handler exists so callers
// can log or count the degradation.
func WithErrorHandler[V any](fn func(op string, err error)) Option[V] {
	return func(c *TTLCache[V]) {
		c.onError = fn
	}
}

// WithClock overrides the time source (tests).
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTLCache[V]) {
		c.now = now
	}
}

// NewTTLCache creates a cache with the given default TTL.
func NewTTLCache[V any](defaultTTL time.Duration, opts ...Option[V]) *TTLCache[V] {
	c := &TTLCache[V]{
		store:      NewMemoryStore[V](),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *TTLCache[V]) reportError(op string, err error) {
	if c.onError != nil {
		c.onError(op, err)
	}
}

// Get returns the cached value for key. An expired entry is evicted and
// reported as a miss. A store failure is reported via the error handler and
// treated as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V

	e, ok, err := c.store.Get(key)
	if err != nil {
		c.reportError("get", err)

		return zero, false
	}

	if !ok {
		return zero, false
	}

	if !e.ExpiresAt.After(c.now()) {
		if err := c.store.Delete(key); err != nil {
			c.reportError("delete", err)
		}

		return zero, false
	}

	return e.Value, true
}

// Set stores value under key. ttl <= 0 uses the cache's default TTL.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	err := c.store.Set(key, Entry[V]{Value: value, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		c.reportError("set", err)
	}
}

// GetOrLoad returns the cached value for key, loading it via loader on miss.
// Concurrent calls for the same key invoke loader exactly once and share the
// result. When the backing store fails the call still succeeds with the
// loader's result; the cache never surfaces its own failures to callers.
func (c *TTLCache[V]) GetOrLoad(
	ctx context.Context, key string, loader func(context.Context) (V, error), ttl time.Duration,
) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have populated the entry while we waited on the flight.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		loaded, loadErr := loader(ctx)
		if loadErr != nil {
			return nil, loadErr
		}

		c.Set(key, loaded, ttl)

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, err
	}

	return val.(V), nil
}

// PurgeExpired removes every expired entry and returns the count removed.
func (c *TTLCache[V]) PurgeExpired() int {
	keys, err := c.store.Keys()
	if err != nil {
		c.reportError("keys", err)

		return 0
	}

	now := c.now()
	purged := 0

	for _, key := range keys {
		e, ok, err := c.store.Get(key)
		if err != nil {
			c.reportError("get", err)

			continue
		}

		if !ok || e.ExpiresAt.After(now) {
			continue
		}

		if err := c.store.Delete(key); err != nil {
			c.reportError("delete", err)

			continue
		}

		purged++
	}

	return purged
}
