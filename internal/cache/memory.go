package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type memoryItem struct {
	path string
	size int64
}

// memoryLayer 是进程内的 key -> 路径短路层，从不持久化。
// 条目在 ttl 内未被访问即过期；引用文件的总字节数超过 maxBytes 时，
// 按最早过期（即最久未访问）的顺序淘汰。
type memoryLayer struct {
	items    *ttlcache.Cache[string, memoryItem]
	maxBytes int64

	// mu 保护 sizes/total，并串行化 Set 与预算淘汰。
	mu    sync.Mutex
	sizes map[string]int64
	total int64
}

func newMemoryLayer(maxBytes int64, ttl time.Duration) *memoryLayer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	items := ttlcache.New[string, memoryItem](
		ttlcache.WithTTL[string, memoryItem](ttl),
	)
	m := &memoryLayer{items: items, maxBytes: maxBytes, sizes: map[string]int64{}}

	// 过期清理由 ttlcache 异步触发；主动删除已在 forget 中同步记账。
	items.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, memoryItem]) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.items.Has(item.Key()) {
			return
		}
		m.forget(item.Key())
	})

	go items.Start()
	return m
}

func (m *memoryLayer) Get(key string) (string, bool) {
	item := m.items.Get(key)
	if item == nil {
		return "", false
	}
	return item.Value().path, true
}

func (m *memoryLayer) Set(key, path string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes > 0 && size > m.maxBytes {
		m.items.Delete(key)
		m.forget(key)
		return
	}
	m.items.Set(key, memoryItem{path: path, size: size}, ttlcache.DefaultTTL)
	m.total += size - m.sizes[key]
	m.sizes[key] = size

	if m.maxBytes > 0 && m.total > m.maxBytes {
		m.enforceBudget(key)
	}
}

// enforceBudget 只在超出预算时执行一次快照与排序，按过期时间从早到晚淘汰。
func (m *memoryLayer) enforceBudget(keep string) {
	type candidate struct {
		key       string
		expiresAt time.Time
	}
	var candidates []candidate
	for key, item := range m.items.Items() {
		if key == keep {
			continue
		}
		candidates = append(candidates, candidate{key: key, expiresAt: item.ExpiresAt()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})

	for _, c := range candidates {
		if m.total <= m.maxBytes {
			return
		}
		m.items.Delete(c.key)
		m.forget(c.key)
	}
}

// forget 调用方需持有 mu。
func (m *memoryLayer) forget(key string) {
	if size, ok := m.sizes[key]; ok {
		m.total -= size
		delete(m.sizes, key)
	}
}

func (m *memoryLayer) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Delete(key)
	m.forget(key)
}

func (m *memoryLayer) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.DeleteAll()
	m.sizes = map[string]int64{}
	m.total = 0
}

// Stats 返回当前条目数与引用的字节数。
func (m *memoryLayer) Stats() (int, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sizes), m.total
}

func (m *memoryLayer) Close() {
	m.items.Stop()
}
