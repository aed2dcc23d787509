package memory_map

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Loader reads the current memory map of a process.
type Loader func(pid int) ([]MemoryMapItem, error)

type cacheEntry struct {
	items    []MemoryMapItem
	loadedAt time.Time
}

// Cache keeps recently read memory maps per process. Entries older than the
// max age are reloaded on access; callers that need the live map (fault
// classification) use Refresh.
type Cache struct {
	load   Loader
	maxAge time.Duration
	now    func() time.Time

	mu  sync.Mutex // serializes loads of the same pid
	lru *lru.Cache
}

// NewCache returns a cache holding at most size memory maps.
func NewCache(size int, maxAge time.Duration, load Loader) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("memory map cache: %w", err)
	}
	return &Cache{
		load:   load,
		maxAge: maxAge,
		now:    time.Now,
		lru:    c,
	}, nil
}

// Get returns the memory map of pid, loading it when absent or stale.
// The returned slice is shared and must not be modified.
func (c *Cache) Get(pid int) ([]MemoryMapItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(pid); ok {
		entry := v.(cacheEntry)
		if c.maxAge <= 0 || c.now().Sub(entry.loadedAt) < c.maxAge {
			return entry.items, nil
		}
	}
	return c.refreshLocked(pid)
}

// Refresh reloads the memory map of pid unconditionally.
func (c *Cache) Refresh(pid int) ([]MemoryMapItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(pid)
}

func (c *Cache) refreshLocked(pid int) ([]MemoryMapItem, error) {
	items, err := c.load(pid)
	if err != nil {
		c.lru.Remove(pid)
		return nil, err
	}
	c.lru.Add(pid, cacheEntry{items: items, loadedAt: c.now()})
	return items, nil
}

// Forget drops the cached map of pid, e.g. when its handle is closed.
func (c *Cache) Forget(pid int) {
	c.lru.Remove(pid)
}

// Len returns the number of cached maps.
func (c *Cache) Len() int {
	return c.lru.Len()
}
