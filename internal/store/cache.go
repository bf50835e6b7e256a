package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of decoded blobs kept in memory.
const DefaultCacheSize = 32

// Cache holds decoded blobs in memory.
type Cache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte)
	Has(key string) bool
	Remove(key string)
	Clear()
}

// LRUCache is a Cache with least-recently-used eviction.
type LRUCache struct {
	lru *lru.Cache[string, []byte]
}

// NewLRUCache returns a cache holding at most size entries. A size below
// one falls back to DefaultCacheSize.
func NewLRUCache(size int) *LRUCache {
	if size < 1 {
		size = DefaultCacheSize
	}
	c, _ := lru.New[string, []byte](size)
	return &LRUCache{lru: c}
}

func (c *LRUCache) Get(key string) ([]byte, bool) { return c.lru.Get(key) }

func (c *LRUCache) Add(key string, value []byte) { c.lru.Add(key, value) }

func (c *LRUCache) Has(key string) bool { return c.lru.Contains(key) }

func (c *LRUCache) Remove(key string) { c.lru.Remove(key) }

func (c *LRUCache) Clear() { c.lru.Purge() }
