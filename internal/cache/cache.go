// Package cache provides a small generic TTL cache with LRU eviction.
//
// Entries are stored together with a fingerprint of the source they were
// derived from. A lookup with a different fingerprint misses and drops the
// stale entry, so callers can key by source and let content changes
// invalidate implicitly. GetOrLoad runs at most one load per key and
// fingerprint at a time; concurrent callers share its result.
package cache

import (
	"errors"
	"sync"
	"time"
)

var errLoadPanicked = errors.New("cache: load panicked")

// Cache is a fingerprint-validated cache with TTL expiry and LRU eviction.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	inflight map[string]*flight[T]
}

type flight[T any] struct {
	done  chan struct{}
	value T
	err   error
}

type entry[T any] struct {
	value       T
	fingerprint string
	storedAt    time.Time
	lastUsed    time.Time
}

// New creates a cache with the given TTL and max entries.
func New[T any](ttl time.Duration, maxSize int) *Cache[T] {
	if maxSize <= 0 {
		maxSize = 10
	}
	return &Cache[T]{
		entries:  make(map[string]*entry[T]),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      time.Now,
		inflight: make(map[string]*flight[T]),
	}
}

// Get returns the value stored under key when its fingerprint matches and
// the TTL has not expired.
func (c *Cache[T]) Get(key, fingerprint string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key, fingerprint)
}

func (c *Cache[T]) lookup(key, fingerprint string) (T, bool) {
	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	now := c.now()
	if e.fingerprint != fingerprint || now.Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	e.lastUsed = now
	return e.value, true
}

// Put stores a value, evicting the least recently used entry when full.
func (c *Cache[T]) Put(key, fingerprint string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, fingerprint, value)
}

func (c *Cache[T]) store(key, fingerprint string, value T) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}

	now := c.now()
	c.entries[key] = &entry[T]{
		value:       value,
		fingerprint: fingerprint,
		storedAt:    now,
		lastUsed:    now,
	}
}

// GetOrLoad returns the cached value for key and fingerprint, calling load
// on a miss. Callers arriving while a load for the same key and fingerprint
// runs wait for it instead of loading again. Errors are returned to every
// waiter and not stored.
func (c *Cache[T]) GetOrLoad(key, fingerprint string, load func() (T, error)) (T, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key, fingerprint); ok {
		c.mu.Unlock()
		return v, nil
	}
	fk := key + "\x00" + fingerprint
	if f, ok := c.inflight[fk]; ok {
		c.mu.Unlock()
		<-f.done
		return f.value, f.err
	}
	f := &flight[T]{done: make(chan struct{})}
	c.inflight[fk] = f
	c.mu.Unlock()

	finished := false
	defer func() {
		if !finished {
			f.err = errLoadPanicked
		}
		c.mu.Lock()
		delete(c.inflight, fk)
		if f.err == nil {
			c.store(key, fingerprint, f.value)
		}
		c.mu.Unlock()
		close(f.done)
	}()
	f.value, f.err = load()
	finished = true
	return f.value, f.err
}

// Len reports the number of live and not-yet-swept entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) evictLRU() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = e.lastUsed
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
