package routes

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lnreader/imgcache/internal/cache"
	"github.com/lnreader/imgcache/internal/server"
)

// CacheAdmin 是诊断接口需要的缓存管理能力，*cache.Manager 实现了它。
type CacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	ClearOwnerCache(ctx context.Context, owner string) (int, error)
	ClearAll(ctx context.Context) error
	SweepExpired(ctx context.Context) (int, error)
	SweepSize(ctx context.Context) (int, error)
}

// RegisterAdminRoutes 暴露 /-/ 前缀下的运维接口：统计、清理、手动淘汰、指标与健康检查。
func RegisterAdminRoutes(app *fiber.App, admin CacheAdmin, gatherer prometheus.Gatherer, logger logrus.FieldLogger) {
	if app == nil || admin == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		stats, err := admin.Stats(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(stats)
	})

	app.Delete("/-/owners/:owner", func(c fiber.Ctx) error {
		owner := strings.TrimSpace(c.Params("owner"))
		if owner == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "owner_required"})
		}
		removed, err := admin.ClearOwnerCache(c.Context(), owner)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"action":     "admin_clear_owner",
			"request_id": server.RequestID(c),
			"owner":      owner,
			"removed":    removed,
		}).Info("owner_cache_cleared")
		return c.JSON(fiber.Map{"owner": owner, "removed": removed})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if err := admin.ClearAll(c.Context()); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"action":     "admin_clear_all",
			"request_id": server.RequestID(c),
		}).Info("cache_cleared")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/sweep", func(c fiber.Ctx) error {
		kind := strings.ToLower(strings.TrimSpace(c.Query("kind", "all")))
		payload := fiber.Map{}
		switch kind {
		case "age", "size", "all":
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_sweep_kind"})
		}
		if kind == "age" || kind == "all" {
			removed, err := admin.SweepExpired(c.Context())
			if err != nil {
				return err
			}
			payload["expired"] = removed
		}
		if kind == "size" || kind == "all" {
			removed, err := admin.SweepSize(c.Context())
			if err != nil {
				return err
			}
			payload["oversize"] = removed
		}
		return c.JSON(payload)
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
