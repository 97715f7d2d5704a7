package synth

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// CacheKey identifies a synthesis result by its effective parameters. The
// streaming flag is deliberately excluded: it changes the transport, not the
// audio bytes.
type CacheKey string

// Key derives the deterministic cache key for a resolved request. Text is
// normalized by trimming surrounding whitespace, matching the preprocessing
// applied before the engine call.
func Key(text, speakerRef, language, format string, speed float64) CacheKey {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%.4f", strings.TrimSpace(text), speakerRef, language, format, speed)
	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

type cacheEntry struct {
	key  CacheKey
	data []byte
}

// Cache is an LRU over complete encoded synthesis results. Entry count and
// total bytes are both bounded; either limit set to zero is ignored. A
// disabled cache always misses and drops inserts, so callers need no
// separate code path.
type Cache struct {
	mu         sync.Mutex
	enabled    bool
	maxEntries int
	maxBytes   int64

	order *list.List
	items map[CacheKey]*list.Element
	bytes int64
}

// NewCache constructs a cache with the given bounds.
func NewCache(enabled bool, maxEntries int, maxBytes int64) *Cache {
	return &Cache{
		enabled:    enabled,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		items:      make(map[CacheKey]*list.Element),
	}
}

// Lookup returns the cached bytes for key, marking the entry most recently
// used on a hit.
func (c *Cache) Lookup(key CacheKey) ([]byte, bool) {
	if c == nil || !c.enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).data, true
}

// Insert stores a complete result, evicting least-recently-used entries until
// the cache is within budget. An entry that alone exceeds the byte budget is
// not cached.
func (c *Cache) Insert(key CacheKey, data []byte) {
	if c == nil || !c.enabled || len(data) == 0 {
		return
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.bytes += int64(len(data)) - int64(len(entry.data))
		entry.data = data
		c.order.MoveToFront(elem)
	} else {
		elem := c.order.PushFront(&cacheEntry{key: key, data: data})
		c.items[key] = elem
		c.bytes += int64(len(data))
	}

	for c.overBudget() {
		c.evictOldest()
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes reports the total cached payload size.
func (c *Cache) Bytes() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) overBudget() bool {
	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		return true
	}
	if c.maxBytes > 0 && c.bytes > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.bytes -= int64(len(entry.data))
}
