/*
 * @Description: 带过期时间的泛型 LRU 缓存
 * @Author: 安知鱼
 * @Date: 2025-11-20 15:12:00
 * @LastEditTime: 2025-11-20 10:36:48
 * @LastEditors: 安知鱼
 */
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// entry 缓存条目
type entry[V any] struct {
	value     V
	createdAt time.Time
}

// LRU 一个线程安全的泛型 LRU 缓存实现
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*entry[V]
	order    []K // 简单的访问顺序记录，队首最旧
}

// NewLRU 创建新的 LRU 缓存，ttl <= 0 表示永不过期
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*entry[V]),
		order:    make([]K, 0, capacity),
	}
}

// Key 使用 SHA256 计算内容寻址的缓存键
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get 从缓存获取值，如果存在且未过期则返回
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}

	if c.ttl > 0 && time.Since(e.createdAt) > c.ttl {
		delete(c.items, key)
		c.removeFromOrder(key)
		return zero, false
	}

	c.moveToEnd(key)
	return e.value, true
}

// Set 设置缓存值，达到容量上限时淘汰最久未访问的条目
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.items[key] = &entry[V]{value: value, createdAt: time.Now()}
		c.moveToEnd(key)
		return
	}

	if len(c.items) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}

	c.items[key] = &entry[V]{value: value, createdAt: time.Now()}
	c.order = append(c.order, key)
}

// GetOrCreate 命中时直接返回，未命中时调用 create 生成并写入。
// create 在锁外执行，并发未命中时可能被调用多次，以最后一次写入为准。
func (c *LRU[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Clear 清空缓存
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[V])
	c.order = make([]K, 0, c.capacity)
}

// Size 返回当前缓存大小
func (c *LRU[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// moveToEnd 将 key 移动到 order 末尾（需要在持有锁的情况下调用）
func (c *LRU[K, V]) moveToEnd(key K) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

// removeFromOrder 从 order 中删除 key（需要在持有锁的情况下调用）
func (c *LRU[K, V]) removeFromOrder(key K) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
