package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/lnreader/imgcache/internal/cache"
	"github.com/lnreader/imgcache/internal/config"
	"github.com/lnreader/imgcache/internal/kvstore"
	"github.com/lnreader/imgcache/internal/logging"
	"github.com/lnreader/imgcache/internal/resolve"
	"github.com/lnreader/imgcache/internal/server"
)

// appRuntime 是一次命令执行所需的全部组件，按“配置 → 日志 → 设置存储 → 缓存 → 解析器”顺序构建。
type appRuntime struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
	store      kvstore.Store
	registry   *prometheus.Registry
	manager    *cache.Manager
	resolver   *resolve.Resolver
}

type runtimeOptions struct {
	startupSweep bool
}

func loadConfigAndLogger(configPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, failf("加载配置失败: %v", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, nil, failf("初始化日志失败: %v", err)
	}
	return cfg, logger, nil
}

func buildRuntime(ctx context.Context, configPath string, opts runtimeOptions) (*appRuntime, error) {
	cfg, logger, err := loadConfigAndLogger(configPath)
	if err != nil {
		return nil, err
	}

	store, err := kvstore.Open(cfg.Global.SettingsBackend, cfg.Global.SettingsPath)
	if err != nil {
		return nil, failf("打开设置存储失败: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := cache.NewMetrics(registry)

	cacheLogger := logging.Component(logger, "cache")
	downloader := cache.NewDownloader(cache.DownloaderOptions{
		Client:      server.NewUpstreamClient(cfg),
		MaxAttempts: cfg.Cache.MaxRetries,
		BaseDelay:   cfg.Cache.InitialBackoff.DurationValue(),
		UserAgent:   cfg.Global.UserAgent,
		Logger:      cacheLogger,
		Metrics:     metrics,
	})

	manager, err := cache.New(ctx, cache.Options{
		Root:             cfg.Global.StoragePath,
		Store:            store,
		Fetcher:          downloader,
		Logger:           cacheLogger,
		Metrics:          metrics,
		MaxMemoryBytes:   cfg.Cache.MaxMemoryCacheSize.Int64(),
		MemoryTTL:        cfg.Cache.MemoryCacheTTL.DurationValue(),
		MaxFileBytes:     cfg.Cache.MaxFileCacheSize.Int64(),
		MaxFileAge:       cfg.Cache.MaxFileCacheAge.DurationValue(),
		DefaultImageURL:  cfg.Cache.DefaultImageURL,
		SkipStartupSweep: !opts.startupSweep,
	})
	if err != nil {
		store.Close()
		return nil, failf("初始化图片缓存失败: %v", err)
	}

	resolver := resolve.New(manager, logging.Component(logger, "resolve"), cfg.Cache.PrefetchConcurrency)

	fields := logging.BaseFields("startup", configPath)
	fields["storage_path"] = cfg.Global.StoragePath
	fields["settings_backend"] = cfg.Global.SettingsBackend
	fields["fallback"] = cfg.Cache.FallbackEnabled()
	logger.WithFields(fields).Debug("runtime_ready")

	return &appRuntime{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		store:      store,
		registry:   registry,
		manager:    manager,
		resolver:   resolver,
	}, nil
}

// Close 等待后台清理结束后关闭设置存储。
func (r *appRuntime) Close() error {
	if err := r.manager.Close(); err != nil {
		return err
	}
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("关闭设置存储失败: %w", err)
	}
	return nil
}
