package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// sizeSweepTarget 是磁盘超限后清理到的比例，留出回差避免每次写入都触发清理。
const sizeSweepTarget = 0.7

// SelectExpired 返回 timestamp 严格早于 now-maxAge 的记录键；恰好等于边界的记录保留。
func SelectExpired(entries map[string]Entry, now time.Time, maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := now.Add(-maxAge).UnixMilli()
	var keys []string
	for key, entry := range entries {
		if entry.Timestamp < cutoff {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// SelectOversize 在总大小超过 maxSize 时，按写入时间从旧到新选出需要删除的记录，
// 直到剩余总量不超过 ratio*maxSize。未超限时返回 nil。
func SelectOversize(entries map[string]Entry, maxSize int64, ratio float64) []string {
	if maxSize <= 0 {
		return nil
	}
	var total int64
	keys := make([]string, 0, len(entries))
	for key, entry := range entries {
		total += entry.SizeBytes
		keys = append(keys, key)
	}
	if total <= maxSize {
		return nil
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]], entries[keys[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return keys[i] < keys[j]
	})

	target := int64(float64(maxSize) * ratio)
	var selected []string
	for _, key := range keys {
		if total <= target {
			break
		}
		selected = append(selected, key)
		total -= entries[key].SizeBytes
	}
	return selected
}

// evictor 执行删除：先删文件，再从工作副本与内存层移除记录。
type evictor struct {
	memory  *memoryLayer
	logger  logrus.FieldLogger
	metrics *Metrics
}

// apply 删除 keys 对应的文件与记录。文件删除失败只记录告警，记录仍然移除。
func (e *evictor) apply(entries map[string]Entry, keys []string, reason string) int {
	removed := 0
	for _, key := range keys {
		entry, ok := entries[key]
		if !ok {
			continue
		}
		if err := removeFile(entry.Path); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"action": "evict",
				"reason": reason,
				"key":    key,
				"path":   entry.Path,
			}).Warn("evict_file_failed")
		}
		delete(entries, key)
		e.memory.Delete(key)
		removed++
	}
	e.metrics.evicted(reason, removed)
	return removed
}

// SweepExpired 执行一次按年龄的清理，返回删除的记录数。
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.sweep(ctx, "age", func(entries map[string]Entry) []string {
		return SelectExpired(entries, m.now(), m.maxFileAge)
	})
}

// SweepSize 执行一次按容量的清理，返回删除的记录数。
func (m *Manager) SweepSize(ctx context.Context) (int, error) {
	return m.sweep(ctx, "size", func(entries map[string]Entry) []string {
		return SelectOversize(entries, m.maxFileSize, sizeSweepTarget)
	})
}

// sweep 在元数据锁内完成选择与删除；没有删除任何记录时不重写存储。
func (m *Manager) sweep(ctx context.Context, reason string, selectKeys func(map[string]Entry) []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.meta.Read(ctx)
	keys := selectKeys(entries)
	if len(keys) == 0 {
		return 0, nil
	}

	removed := m.evictor.apply(entries, keys, reason)
	if removed == 0 {
		return 0, nil
	}
	if err := m.meta.Write(ctx, entries); err != nil {
		return removed, err
	}
	m.metrics.disk(entries)

	m.logger.WithFields(logrus.Fields{
		"action":    "sweep",
		"reason":    reason,
		"removed":   removed,
		"remaining": len(entries),
	}).Info("sweep_complete")
	return removed, nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
