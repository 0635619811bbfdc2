// Package cache provides the read cache and the subscription bus that keep a
// low-staleness view of many outstanding escrows without re-querying the
// ledger on every observation. Both are explicit objects with their own
// lifecycle, constructed once and injected where needed.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a cached read stays fresh when the caller does not
// choose a TTL.
const DefaultTTL = 30 * time.Second

// FetchFunc performs the underlying ledger read on a cache miss.
type FetchFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

// ReadCache deduplicates concurrent reads per key and serves fresh values
// from memory. Keys are (target, operation, argument-tuple); distinct
// entities never contend. Eviction is passive: staleness is checked on read,
// and mutating flows bust keys explicitly.
type ReadCache struct {
	ttl    time.Duration
	now    func() time.Time
	flight singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

// NewReadCache builds a cache with the given default TTL (DefaultTTL when
// non-positive).
func NewReadCache(ttl time.Duration) *ReadCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ReadCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Key renders the canonical cache key for a target, operation and arguments.
func Key(target, op string, args ...interface{}) string {
	var b strings.Builder
	b.WriteString(target)
	b.WriteByte('|')
	b.WriteString(op)
	for _, arg := range args {
		b.WriteByte('|')
		fmt.Fprintf(&b, "%v", arg)
	}
	return b.String()
}

// Get returns the cached value for the key when its age is below the TTL.
// On a miss, concurrent callers for the same key attach to one outstanding
// fetch: at most one underlying read per key is ever in flight.
func (c *ReadCache) Get(ctx context.Context, key string, fetch FetchFunc) (interface{}, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.storedAt) < e.ttl {
		return e.value, nil
	}

	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a racing caller may have refilled the
		// entry while this one waited for the group slot.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.storedAt) < e.ttl {
			return e.value, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{value: v, storedAt: c.now(), ttl: c.ttl}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores a value directly, stamping it fresh. Used after a confirmed
// mutation when the post-state has already been read.
func (c *ReadCache) Put(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now(), ttl: c.ttl}
	c.mu.Unlock()
}

// Invalidate drops the exact key.
func (c *ReadCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every key sharing the prefix; used to bust all
// cached reads of one target after a mutating run confirms.
func (c *ReadCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of stored entries, stale ones included.
func (c *ReadCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
