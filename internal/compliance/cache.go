package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfacts/expense-compliance/internal/policy/condition"
)

// ConditionCache keeps parsed condition ASTs keyed by the hash of their text.
type ConditionCache struct {
	entries map[string]*cacheEntry
	mu      sync.RWMutex
	ttl     time.Duration

	maxEntries int
	enabled    bool

	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type cacheEntry struct {
	expr      *condition.Expr
	expiresAt time.Time
}

// CacheConfig holds cache configuration.
type CacheConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// NewConditionCache creates a new condition cache.
func NewConditionCache(cfg CacheConfig) *ConditionCache {
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 10000
	}

	c := &ConditionCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		enabled:    cfg.Enabled,
		done:       make(chan struct{}),
	}

	if cfg.Enabled {
		go c.cleanupLoop()
	}

	return c
}

// Parse returns the AST for cond, parsing and caching it on a miss.
func (c *ConditionCache) Parse(cond string) *condition.Expr {
	if c == nil || !c.enabled {
		return condition.Parse(cond)
	}

	key := hashCondition(cond)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		c.hits.Add(1)
		return entry.expr
	}

	c.misses.Add(1)
	expr := condition.Parse(cond)

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{
		expr:      expr,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return expr
}

// Invalidate removes all cached entries.
func (c *ConditionCache) Invalidate() {
	if c == nil || !c.enabled {
		return
	}

	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Close stops the background cleanup.
func (c *ConditionCache) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// Stats returns cache statistics.
func (c *ConditionCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}

	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	hitRate := float64(0)
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Entries: entries,
		HitRate: hitRate,
		Evicted: c.evicted.Load(),
	}
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
	Evicted int64   `json:"evicted"`
}

// evictOldest drops expired entries, then the entries closest to expiry until
// a tenth of the capacity is free. Must be called with c.mu held.
func (c *ConditionCache) evictOldest() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			c.evicted.Add(1)
		}
	}

	target := c.maxEntries - c.maxEntries/10
	if len(c.entries) < target {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].expiresAt.Before(c.entries[keys[j]].expiresAt)
	})
	for _, key := range keys[:len(keys)-target+1] {
		delete(c.entries, key)
		c.evicted.Add(1)
	}
}

func (c *ConditionCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *ConditionCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			c.evicted.Add(1)
		}
	}
}

func hashCondition(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
