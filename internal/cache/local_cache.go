// Package cache 提供进程内 TTL 计数缓存。
// 未启用 Redis 的单实例部署用它承载解锁尝试计数。
package cache

import (
	"sync"
	"time"
)

// CounterCache 带过期窗口的本地计数缓存
//
// 特点：
// - 计数与窗口开启在同一锁区间内完成，并发自增不丢计数
// - 窗口过期后计数自动归零
// - 后台定期清理过期条目
type CounterCache struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
	stop    chan struct{}
	once    sync.Once
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewCounterCache 创建本地计数缓存并启动清理循环
func NewCounterCache() *CounterCache {
	c := &CounterCache{
		entries: make(map[string]*counterEntry),
		stop:    make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Increment 自增计数并返回当前值。
// 条目不存在或窗口已过期时重新开窗，计数从 1 开始。
func (c *CounterCache) Increment(key string, window time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.entries[key]
	if !ok || now.After(entry.expiresAt) {
		c.entries[key] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		return 1
	}

	entry.count++
	return entry.count
}

// Get 读取当前计数，过期或不存在返回 0
func (c *CounterCache) Get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0
	}
	return entry.count
}

// Delete 删除计数条目
func (c *CounterCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len 返回存活条目数（含未被清理的过期条目）
func (c *CounterCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close 停止清理循环
func (c *CounterCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanupLoop 定期清理过期条目
func (c *CounterCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
