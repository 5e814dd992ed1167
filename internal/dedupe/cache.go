// ABOUTME: TTL + size bounded seen-set with O(1) insert and eviction.
// ABOUTME: Duplicate returns true for fingerprints already marked within the window.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// sweepInterval is how often expired entries are removed in the
// background. Expiry itself is enforced on read, so the sweep only
// reclaims memory.
const sweepInterval = time.Minute

type entry struct {
	key       string
	expiresAt time.Time
	element   *list.Element
}

// Cache is a thread-safe seen-set for event fingerprints. Entries expire
// after the TTL; when the cache is full the oldest entry is evicted. The
// age list keeps eviction O(1).
type Cache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.RWMutex
	entries map[string]*entry
	byAge   *list.List // oldest at front
	done    chan struct{}
	closed  bool
}

// New creates a cache holding up to maxSize fingerprints for ttl each and
// starts the background sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*entry),
		byAge:   list.New(),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Duplicate atomically tests and marks: it returns true when key was
// already marked and has not expired, otherwise it marks key and returns
// false. A duplicate does not refresh the original entry's TTL.
func (c *Cache) Duplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return true
	}
	c.markLocked(key)
	return false
}

// Seen reports whether key is marked and unexpired, without marking it.
func (c *Cache) Seen(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return ok && time.Now().Before(e.expiresAt)
}

// Mark records key as seen, refreshing its TTL if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) markLocked(key string) {
	expiresAt := time.Now().Add(c.ttl)

	if e, ok := c.entries[key]; ok {
		e.expiresAt = expiresAt
		c.byAge.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.byAge.PushBack(key)
	c.entries[key] = &entry{key: key, expiresAt: expiresAt, element: elem}
}

func (c *Cache) evictOldestLocked() {
	front := c.byAge.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.byAge.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops every expired entry.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.byAge.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
