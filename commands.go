package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/cobra"

	"github.com/lnreader/imgcache/internal/cache"
	"github.com/lnreader/imgcache/internal/logging"
	"github.com/lnreader/imgcache/internal/server"
	"github.com/lnreader/imgcache/internal/server/routes"
	"github.com/lnreader/imgcache/internal/version"
)

// withRuntime 构建运行时、执行 fn，并保证资源释放。
func withRuntime(cmd *cobra.Command, opts *cliOptions, rt runtimeOptions, fn func(context.Context, *appRuntime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := buildRuntime(ctx, opts.configPath(), rt)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.logger.WithError(err).WithField("action", "shutdown").Warn("runtime_close_failed")
		}
	}()
	return fn(ctx, app)
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动图片与诊断 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, runtimeOptions{startupSweep: true}, func(ctx context.Context, rt *appRuntime) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := startHTTPServer(ctx, rt); err != nil {
					return failf("HTTP 服务启动失败: %v", err)
				}
				return nil
			})
		},
	}
}

func startHTTPServer(ctx context.Context, rt *appRuntime) error {
	port := rt.cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterImageRoutes(app, rt.resolver, logging.Component(rt.logger, "http"))
	routes.RegisterAdminRoutes(app, rt.manager, rt.registry, logging.Component(rt.logger, "admin"))

	go func() {
		<-ctx.Done()
		rt.logger.WithField("action", "shutdown").Info("signal_received")
		_ = app.Shutdown()
	}()

	fields := logging.BaseFields("listen", rt.configPath)
	fields["port"] = port
	fields["storage_path"] = rt.cfg.Global.StoragePath
	fields["version"] = version.Full()
	rt.logger.WithFields(fields).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}

func newFetchCommand(opts *cliOptions) *cobra.Command {
	var (
		category   string
		owner      string
		image      string
		url        string
		noFallback bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "下载单张图片到缓存并输出本地路径",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := cache.ParseCategory(category)
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, runtimeOptions{}, func(ctx context.Context, rt *appRuntime) error {
				if path, ok := rt.manager.GetCachedPath(ctx, parsed, owner, image); ok {
					fmt.Fprintln(stdOut, path)
					return nil
				}
				var cacheOpts []cache.CacheOption
				if noFallback {
					cacheOpts = append(cacheOpts, cache.WithoutFallback())
				}
				path, err := rt.manager.CacheImage(ctx, url, parsed, owner, image, cacheOpts...)
				if err != nil {
					return failf("缓存图片失败: %v", err)
				}
				fmt.Fprintln(stdOut, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", string(cache.CategoryCover), "图片分类：cover 或 content")
	cmd.Flags().StringVar(&owner, "owner", "", "所属小说标识")
	cmd.Flags().StringVar(&image, "image", "", "正文插图名称（content 必填）")
	cmd.Flags().StringVar(&url, "url", "", "远程图片地址")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "失败时不使用占位图")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newStatsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "输出缓存统计（JSON）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, runtimeOptions{}, func(ctx context.Context, rt *appRuntime) error {
				stats, err := rt.manager.Stats(ctx)
				if err != nil {
					return failf("统计失败: %v", err)
				}
				return writeJSON(stats)
			})
		},
	}
}

func newClearCommand(opts *cliOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "清理缓存；指定 --owner 时只清理该小说",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, runtimeOptions{}, func(ctx context.Context, rt *appRuntime) error {
				if owner != "" {
					removed, err := rt.manager.ClearOwnerCache(ctx, owner)
					if err != nil {
						return failf("清理失败: %v", err)
					}
					return writeJSON(map[string]interface{}{"owner": owner, "removed": removed})
				}
				if err := rt.manager.ClearAll(ctx); err != nil {
					return failf("清空缓存失败: %v", err)
				}
				return writeJSON(map[string]interface{}{"cleared": true})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "只清理该小说的图片")
	return cmd
}

func newSweepCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "立即执行按年龄与容量的淘汰",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, runtimeOptions{}, func(ctx context.Context, rt *appRuntime) error {
				expired, err := rt.manager.SweepExpired(ctx)
				if err != nil {
					return failf("按年龄淘汰失败: %v", err)
				}
				oversize, err := rt.manager.SweepSize(ctx)
				if err != nil {
					return failf("按容量淘汰失败: %v", err)
				}
				return writeJSON(map[string]int{"expired": expired, "oversize": oversize})
			})
		},
	}
}

func newCheckConfigCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath()
			cfg, logger, err := loadConfigAndLogger(path)
			if err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", path)
			fields["storage_path"] = cfg.Global.StoragePath
			fields["settings_backend"] = cfg.Global.SettingsBackend
			fields["max_file_cache_size"] = cfg.Cache.MaxFileCacheSize.String()
			fields["fallback"] = cfg.Cache.FallbackEnabled()
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}
