package cache

import "sync"

// Entry 是一次检测结果。API 为空表示失败 (失败哨兵), 与未命中不同。
type Entry struct {
	API  map[string]any `json:"api,omitempty"`
	Risk *int           `json:"risk,omitempty"` // 欺诈值, 未检测时为空
}

// Succeeded reports whether the entry carries a geo record.
func (e Entry) Succeeded() bool {
	return e.API != nil
}

// Failure returns the empty sentinel entry.
func Failure() Entry {
	return Entry{}
}

// Cache 接口定义了检测结果缓存的行为。生命周期与持久化由实现方负责。
type Cache interface {
	// Get returns the entry and whether it exists. An error means the backend could not be read.
	Get(key string) (Entry, bool, error)
	Set(key string, entry Entry) error
}

// Flusher is implemented by caches that buffer writes.
type Flusher interface {
	Flush() error
}

// MemoryCache 是并发安全的内存缓存。
type MemoryCache struct {
	entries map[string]Entry
	mu      sync.RWMutex
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *MemoryCache) Set(key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// Len 返回缓存条目数量。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
