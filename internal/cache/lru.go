package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUSize is the number of scores kept by NewLRUCache(0).
const DefaultLRUSize = 10000

// LRUCache is an in-process ScoreCache bounded by entry count.
type LRUCache struct {
	entries *lru.Cache[string, Entry]
}

// NewLRUCache creates a cache holding at most size entries.
func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = DefaultLRUSize
	}
	entries, _ := lru.New[string, Entry](size)
	return &LRUCache{entries: entries}
}

// Get implements ScoreCache.
func (c *LRUCache) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := c.entries.Get(key)
	return e, ok, nil
}

// Set implements ScoreCache.
func (c *LRUCache) Set(_ context.Context, key string, entry Entry) error {
	c.entries.Add(key, entry)
	return nil
}

// Len returns the number of cached scores.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.entries.Purge()
	return nil
}
