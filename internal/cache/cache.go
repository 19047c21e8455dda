// Package cache implements the process-global TTL+LRU cache layer (C1):
// the response cache, the retrieval cache, and the web-search cache.
package cache

import (
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/henryperkins/agentic-rag/internal/metrics"
)

// Cache is a TTL+LRU mapping from a normalized string key to a value V. Every
// get updates the shared hit-rate gauge; every eviction increments a
// per-cache-name counter.
type Cache[V any] struct {
	name    string
	ttl     time.Duration
	cap     int
	metrics metrics.Metrics
	mu      sync.Mutex
	inner   *lru.LRU[string, V]
	mirror  Mirror[V] // optional, advisory
}

// Mirror is an optional advisory write-behind target for cache sets, used to
// warm a second process's local cache (see internal/cache/redismirror.go).
// A Mirror failure never fails Set and is never consulted on Get.
type Mirror[V any] interface {
	Set(key string, value V, ttl time.Duration)
}

// New constructs a named cache with the given TTL and capacity.
func New[V any](name string, ttl time.Duration, capacity int, m metrics.Metrics) *Cache[V] {
	if m == nil {
		m = metrics.Noop{}
	}
	c := &Cache[V]{name: name, ttl: ttl, cap: capacity, metrics: m}
	c.inner = lru.NewLRU[string, V](capacity, func(_ string, _ V) {
		c.metrics.IncCounter("cache_evictions_total", map[string]string{"cache": name})
	}, ttl)
	return c
}

// WithMirror attaches an advisory mirror; returns the same cache for chaining.
func (c *Cache[V]) WithMirror(m Mirror[V]) *Cache[V] {
	c.mirror = m
	return c
}

// Get returns the current value for k if present and unexpired. Expired
// entries are evicted transparently by the underlying LRU on access.
func (c *Cache[V]) Get(k string) (V, bool) {
	c.mu.Lock()
	v, ok := c.inner.Get(k)
	c.mu.Unlock()
	if ok {
		c.metrics.SetGauge("cache_hit_rate", 1, map[string]string{"cache": c.name})
	} else {
		c.metrics.SetGauge("cache_hit_rate", 0, map[string]string{"cache": c.name})
	}
	return v, ok
}

// Set inserts or refreshes k with the cache's configured TTL, evicting the
// least-recently-used entry first if at capacity.
func (c *Cache[V]) Set(k string, v V) {
	c.mu.Lock()
	c.inner.Add(k, v)
	c.mu.Unlock()
	if c.mirror != nil {
		c.mirror.Set(k, v, c.ttl)
	}
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// Len reports the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize lowercases and collapses runs of whitespace in a cache key. It is
// the caller's responsibility to normalize keys before Get/Set.
func Normalize(key string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(key)), " ")
}
