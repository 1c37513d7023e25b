package config

import (
	"errors"
	"net/url"
	"time"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.SettingsBackend {
	case SettingsBackendSQLite, SettingsBackendFile:
	default:
		return newFieldError("Global.SettingsBackend", "仅支持 sqlite/file")
	}
	if g.SettingsPath == "" {
		return newFieldError("Global.SettingsPath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	cache := c.Cache
	if cache.MaxMemoryCacheSize <= 0 {
		return newFieldError("Cache.MaxMemoryCacheSize", "必须大于 0")
	}
	if cache.MemoryCacheTTL.DurationValue() <= 0 {
		return newFieldError("Cache.MemoryCacheTTL", "必须大于 0")
	}
	if cache.MaxFileCacheSize <= 0 {
		return newFieldError("Cache.MaxFileCacheSize", "必须大于 0")
	}
	if cache.MaxFileCacheAge.DurationValue() < time.Minute {
		return newFieldError("Cache.MaxFileCacheAge", "不能小于 1m")
	}
	if cache.MaxRetries < 1 {
		return newFieldError("Cache.MaxRetries", "至少为 1")
	}
	if cache.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Cache.InitialBackoff", "必须大于 0")
	}
	if cache.PrefetchConcurrency < 1 {
		return newFieldError("Cache.PrefetchConcurrency", "至少为 1")
	}
	if cache.DefaultImageURL != "" {
		if err := validateImageURL(cache.DefaultImageURL); err != nil {
			return newFieldError("Cache.DefaultImageURL", err.Error())
		}
	}
	return nil
}

func validateImageURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少 Host")
	}
	return nil
}
