// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCacheTTL is the per-entry lifetime unless overridden.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheMaxEntries bounds the cache; the entry expiring soonest
	// is evicted first when full.
	DefaultCacheMaxEntries = 1024
)

type cacheEntry struct {
	value     interface{}
	tags      []string
	expiresAt time.Time
}

// QueryCache is a process-local, TTL-bounded result cache. Repositories
// tag every Put with the tables the result depends on; writes invalidate
// by tag so readers after a commit never see stale rows. The cache is
// never authoritative.
type QueryCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	maxEntries int
	ttl        time.Duration
	flight     *FlightGroup

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats reports hit/miss counters and current size.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// NewQueryCache creates a cache. Zero values select the defaults.
func NewQueryCache(maxEntries int, ttl time.Duration) *QueryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &QueryCache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		flight:     NewFlightGroup(),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *QueryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// GetOrLoad returns the cached value for key, filling it with load on a
// miss. Concurrent misses for the same key collapse into a single load;
// waiters share the leader's result. Errors are returned, never cached.
func (c *QueryCache) GetOrLoad(ctx context.Context, key string, load func() (interface{}, error), tags ...string) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, _, err := c.flight.Do(ctx, key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Put(key, v, tags...)
		return v, nil
	})
	return v, err
}

// Put stores a value under key with the default TTL, tagged with the
// tables it depends on.
func (c *QueryCache) Put(key string, value interface{}, tags ...string) {
	c.PutTTL(key, value, c.ttl, tags...)
}

// PutTTL stores a value with an explicit TTL.
func (c *QueryCache) PutTTL(key string, value interface{}, ttl time.Duration, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{
		value:     value,
		tags:      tags,
		expiresAt: time.Now().Add(ttl),
	}
}

// evictLocked removes expired entries, then the entry expiring soonest
// if the cache is still full.
func (c *QueryCache) evictLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Invalidate removes every entry whose key has the given prefix or whose
// tags include it. Write paths call this inside the commit path with the
// "affects table" tag.
func (c *QueryCache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
			continue
		}
		for _, tag := range e.tags {
			if tag == prefix {
				delete(c.entries, k)
				removed++
				break
			}
		}
	}
	return removed
}

// Clear drops all entries.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats returns hit/miss counters and current size.
func (c *QueryCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: n,
	}
}
