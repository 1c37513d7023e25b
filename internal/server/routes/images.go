package routes

import (
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lnreader/imgcache/internal/cache"
	"github.com/lnreader/imgcache/internal/resolve"
	"github.com/lnreader/imgcache/internal/server"
)

// RegisterImageRoutes 暴露供阅读界面使用的图片接口：
//
//	GET /covers/:owner?url=<source>
//	GET /content/:owner/<image>?url=<source>
//
// 缓存命中时直接返回文件；未命中且提供了 url 时先下载再返回。
func RegisterImageRoutes(app *fiber.App, resolver *resolve.Resolver, logger logrus.FieldLogger) {
	if app == nil || resolver == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/covers/:owner", func(c fiber.Ctx) error {
		return serveImage(c, resolver, logger, resolve.Ref{
			Category:  cache.CategoryCover,
			Owner:     c.Params("owner"),
			SourceURL: strings.TrimSpace(c.Query("url")),
		})
	})

	app.Get("/content/:owner/*", func(c fiber.Ctx) error {
		return serveImage(c, resolver, logger, resolve.Ref{
			Category:  cache.CategoryContent,
			Owner:     c.Params("owner"),
			Image:     c.Params("*"),
			SourceURL: strings.TrimSpace(c.Query("url")),
		})
	})
}

func serveImage(c fiber.Ctx, resolver *resolve.Resolver, logger logrus.FieldLogger, ref resolve.Ref) error {
	if _, err := cache.NewKey(ref.Category, ref.Owner, ref.Image); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_image_key"})
	}

	result := resolver.Resolve(c.Context(), ref)
	if !result.Available() {
		code := "image_unavailable"
		if errors.Is(result.Err, resolve.ErrNoSource) {
			code = "image_not_cached"
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": code})
	}

	file, err := os.Open(result.Path)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "serve_image",
			"request_id": server.RequestID(c),
			"path":       result.Path,
		}).Warn("cached_file_open_failed")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "image_unavailable"})
	}
	defer file.Close()

	hit := "miss"
	if result.Cached {
		hit = "hit"
	}
	c.Set("X-Imgcache-Hit", hit)
	c.Set(fiber.HeaderContentType, contentTypeFor(result.Path))
	c.Set(fiber.HeaderCacheControl, "private, max-age=86400")
	if info, err := file.Stat(); err == nil {
		c.Response().Header.SetContentLength(int(info.Size()))
	}
	c.Status(fiber.StatusOK)

	_, err = io.Copy(c.Response().BodyWriter(), file)
	return err
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
