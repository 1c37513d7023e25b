package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lnreader/imgcache/internal/kvstore"
)

// Options 描述构建 Manager 所需的依赖与策略参数。
type Options struct {
	// Root 是缓存根目录，其下包含 covers/ 与 content/。
	Root string
	// Store 是设置存储，元数据保存在 MetadataKey 下。
	Store kvstore.Store
	// Fetcher 负责下载；为空时使用默认 Downloader。
	Fetcher Fetcher
	Logger  logrus.FieldLogger
	Metrics *Metrics

	MaxMemoryBytes  int64
	MemoryTTL       time.Duration
	MaxFileBytes    int64
	MaxFileAge      time.Duration
	DefaultImageURL string

	// SkipStartupSweep 关闭构建时的过期清理。
	SkipStartupSweep bool
	// Now 允许测试注入时钟。
	Now func() time.Time
}

// Manager 组合元数据存储、下载器、淘汰策略与内存层，对外提供图片缓存的读写接口。
// 在应用启动时构建一次并显式注入给各个使用方。
type Manager struct {
	layout  Layout
	meta    *MetadataStore
	fetcher Fetcher
	memory  *memoryLayer
	evictor *evictor
	logger  logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time

	maxFileSize int64
	maxFileAge  time.Duration
	defaultURL  string

	// mu 串行化元数据的读-改-写；下载在锁外进行。
	// closed 也由 mu 保护，置位后不再派生后台清理。
	mu     sync.Mutex
	closed bool

	flights      singleflight.Group
	background   errgroup.Group
	sweepPending *atomic.Bool
	closeOnce    sync.Once
}

// New 构建 Manager，创建目录布局，并（默认）执行一次过期清理。
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("settings store required")
	}
	layout, err := NewLayout(opts.Root)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewDownloader(DownloaderOptions{Logger: logger, Metrics: opts.Metrics})
	}
	maxFileSize := opts.MaxFileBytes
	if maxFileSize <= 0 {
		maxFileSize = 500 << 20
	}
	maxFileAge := opts.MaxFileAge
	if maxFileAge <= 0 {
		maxFileAge = 30 * 24 * time.Hour
	}
	maxMemory := opts.MaxMemoryBytes
	if maxMemory <= 0 {
		maxMemory = 50 << 20
	}

	memory := newMemoryLayer(maxMemory, opts.MemoryTTL)
	m := &Manager{
		layout:       layout,
		meta:         NewMetadataStore(opts.Store, logger),
		fetcher:      fetcher,
		memory:       memory,
		evictor:      &evictor{memory: memory, logger: logger, metrics: opts.Metrics},
		logger:       logger,
		metrics:      opts.Metrics,
		now:          now,
		maxFileSize:  maxFileSize,
		maxFileAge:   maxFileAge,
		defaultURL:   opts.DefaultImageURL,
		sweepPending: atomic.NewBool(false),
	}

	if err := m.ensureLayout(); err != nil {
		memory.Close()
		return nil, fmt.Errorf("create cache layout: %w", err)
	}

	if !opts.SkipStartupSweep {
		if _, err := m.SweepExpired(ctx); err != nil {
			logger.WithError(err).WithField("action", "sweep").Warn("startup_sweep_failed")
		}
	}
	return m, nil
}

// Layout 返回路径布局，便于调用方推导目标路径。
func (m *Manager) Layout() Layout {
	return m.layout
}

// PathFor 返回缓存键对应的确定性目标路径。
func (m *Manager) PathFor(category Category, owner, image string) (string, error) {
	key, err := NewKey(category, owner, image)
	if err != nil {
		return "", err
	}
	return m.layout.Path(key), nil
}

// GetCachedPath 依次检查内存层与元数据，命中时确认文件仍存在；文件丢失则清除陈旧记录并视为未命中。
// 从不触发网络请求。
func (m *Manager) GetCachedPath(ctx context.Context, category Category, owner, image string) (string, bool) {
	key, err := NewKey(category, owner, image)
	if err != nil {
		return "", false
	}
	id := key.String()

	if path, ok := m.memory.Get(id); ok {
		if fileExists(path) {
			m.metrics.lookup("memory_hit")
			return path, true
		}
		m.memory.Delete(id)
	}

	entry, ok := m.meta.Read(ctx)[id]
	if !ok {
		m.metrics.lookup("miss")
		return "", false
	}
	if !fileExists(entry.Path) {
		m.heal(ctx, id, entry)
		m.metrics.lookup("healed")
		return "", false
	}

	m.memory.Set(id, entry.Path, entry.SizeBytes)
	m.metrics.lookup("disk_hit")
	return entry.Path, true
}

// heal 删除指向已丢失文件的记录；期间若记录已被重写则保留新记录。
func (m *Manager) heal(ctx context.Context, id string, stale Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.meta.Read(ctx)
	current, ok := entries[id]
	if !ok || current.Timestamp != stale.Timestamp || fileExists(current.Path) {
		return
	}
	delete(entries, id)
	m.memory.Delete(id)
	if err := m.meta.Write(ctx, entries); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "heal", "key": id}).Warn("heal_persist_failed")
		return
	}
	m.metrics.evicted("heal", 1)
	m.logger.WithFields(logrus.Fields{"action": "heal", "key": id, "path": stale.Path}).Info("stale_record_removed")
}

// CacheOption 调整单次 CacheImage 的行为。
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	fallback bool
}

// WithoutFallback 关闭占位图回退。
func WithoutFallback() CacheOption {
	return func(o *cacheOptions) { o.fallback = false }
}

// CacheImage 下载 url 并写入缓存，返回本地路径。
// 主地址失败且允许回退时，会用配置的占位图地址再尝试一次（仅一次）。
// 同一键、同一地址的并发调用会合并为一次下载；调用方取消 ctx 不会中断已开始的下载。
func (m *Manager) CacheImage(ctx context.Context, url string, category Category, owner, image string, opts ...CacheOption) (string, error) {
	key, err := NewKey(category, owner, image)
	if err != nil {
		return "", err
	}
	o := cacheOptions{fallback: true}
	for _, opt := range opts {
		opt(&o)
	}

	flightKey := fmt.Sprintf("%s\x00%s\x00%t", key.String(), url, o.fallback)
	detached := context.WithoutCancel(ctx)
	result := m.flights.DoChan(flightKey, func() (interface{}, error) {
		return m.cacheOnce(detached, key, url, o)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) cacheOnce(ctx context.Context, key Key, url string, o cacheOptions) (string, error) {
	dst := m.layout.Path(key)
	if err := m.ensureLayout(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}

	source, err := m.fetchWithFallback(ctx, key, url, dst, o)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}
	entry := Entry{
		Path:      dst,
		SourceURL: source,
		Timestamp: m.now().UnixMilli(),
		SizeBytes: info.Size(),
		Category:  key.Category,
		Owner:     key.Owner,
		Image:     key.Image,
	}
	if err := m.upsert(ctx, key.String(), entry); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}

	m.memory.Set(key.String(), dst, entry.SizeBytes)
	m.scheduleSizeSweep()

	m.logger.WithFields(logrus.Fields{
		"action":     "cache_image",
		"key":        key.String(),
		"url":        source,
		"size_bytes": entry.SizeBytes,
	}).Debug("image_cached")
	return dst, nil
}

// fetchWithFallback 是显式的两步流程：主地址一次（含重试），失败后占位图一次。
func (m *Manager) fetchWithFallback(ctx context.Context, key Key, url, dst string, o cacheOptions) (string, error) {
	primaryErr := m.fetcher.Download(ctx, url, dst)
	if primaryErr == nil {
		return url, nil
	}

	fields := logrus.Fields{"action": "cache_image", "key": key.String(), "url": url}
	if !o.fallback || m.defaultURL == "" || url == m.defaultURL {
		m.logger.WithError(primaryErr).WithFields(fields).Warn("image_unavailable")
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, key, primaryErr)
	}

	m.logger.WithError(primaryErr).WithFields(fields).Info("image_fallback")
	if err := m.fetcher.Download(ctx, m.defaultURL, dst); err != nil {
		m.logger.WithError(err).WithFields(fields).Warn("placeholder_unavailable")
		return "", fmt.Errorf("%w: %s: %v (placeholder: %v)", ErrUnavailable, key, primaryErr, err)
	}
	m.metrics.fallback()
	return m.defaultURL, nil
}

func (m *Manager) upsert(ctx context.Context, id string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.meta.Read(ctx)
	entries[id] = entry
	if err := m.meta.Write(ctx, entries); err != nil {
		return err
	}
	m.metrics.disk(entries)
	return nil
}

// scheduleSizeSweep 在后台执行容量清理，不阻塞 CacheImage 的调用方。
// 已有待执行的清理时不再重复排队。
func (m *Manager) scheduleSizeSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.sweepPending.CompareAndSwap(false, true) {
		return
	}
	m.background.Go(func() error {
		m.sweepPending.Store(false)
		if _, err := m.SweepSize(context.Background()); err != nil {
			m.logger.WithError(err).WithField("action", "sweep").Warn("size_sweep_failed")
		}
		return nil
	})
}

// ClearOwnerCache 删除某本小说的全部缓存，返回成功删除的记录数。
// 单个文件删除失败时记录日志并跳过，该记录保留。
func (m *Manager) ClearOwnerCache(ctx context.Context, owner string) (int, error) {
	if owner == "" {
		return 0, fmt.Errorf("%w: owner required", ErrInvalidKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.meta.Read(ctx)
	removed := 0
	for id, entry := range entries {
		if entry.Owner != owner {
			continue
		}
		if err := removeFile(entry.Path); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "clear_owner",
				"key":    id,
				"path":   entry.Path,
			}).Warn("clear_file_failed")
			continue
		}
		delete(entries, id)
		m.memory.Delete(id)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	if err := m.meta.Write(ctx, entries); err != nil {
		return removed, err
	}
	m.metrics.disk(entries)
	m.metrics.evicted("owner", removed)
	m.logger.WithFields(logrus.Fields{"action": "clear_owner", "owner": owner, "removed": removed}).Info("owner_cache_cleared")
	return removed, nil
}

// ClearAll 清空内存层、删除整个缓存目录并清除元数据。目录删除失败会直接返回错误。
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memory.Purge()
	if err := os.RemoveAll(m.layout.Root()); err != nil {
		return fmt.Errorf("remove cache root: %w", err)
	}
	if err := m.meta.Clear(ctx); err != nil {
		return fmt.Errorf("clear metadata: %w", err)
	}
	m.metrics.disk(nil)
	m.logger.WithFields(logrus.Fields{"action": "clear_all", "root": m.layout.Root()}).Info("cache_cleared")
	return m.ensureLayout()
}

// Stats 统计元数据中的文件数与总大小，单个文件 stat 失败时跳过。
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{MaxFileCacheSize: m.maxFileSize}
	for _, entry := range m.meta.Read(ctx) {
		info, err := os.Stat(entry.Path)
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalSizeBytes += info.Size()
	}
	stats.MemoryCount, stats.MemoryBytes = m.memory.Stats()
	return stats, nil
}

// Entries 返回元数据快照，供诊断接口使用。
func (m *Manager) Entries(ctx context.Context) map[string]Entry {
	return m.meta.Read(ctx)
}

// Wait 等待所有后台清理任务结束。
func (m *Manager) Wait() {
	_ = m.background.Wait()
}

// Close 等待后台任务并停止内存层的过期协程。
// Close 之后 CacheImage 仍可使用，但不会再触发容量清理。
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.Wait()
		m.memory.Close()
	})
	return nil
}

func (m *Manager) ensureLayout() error {
	for _, c := range []Category{CategoryCover, CategoryContent} {
		if err := os.MkdirAll(m.layout.CategoryDir(c), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
