package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被解析为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.ListenPort != 5080 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Cache.MaxFileCacheSize.Int64() != 200<<20 {
		t.Fatalf("MaxFileCacheSize 解析错误: %d", cfg.Cache.MaxFileCacheSize)
	}
	if cfg.Cache.MaxFileCacheAge.DurationValue() != 168*time.Hour {
		t.Fatalf("MaxFileCacheAge 解析错误: %s", cfg.Cache.MaxFileCacheAge.DurationValue())
	}
	if cfg.Cache.MaxMemoryCacheSize.Int64() != 50<<20 {
		t.Fatalf("MaxMemoryCacheSize 应该自动填充默认值，得到 %d", cfg.Cache.MaxMemoryCacheSize)
	}
	if cfg.Cache.MaxRetries != 2 {
		t.Fatalf("MaxRetries 解析错误: %d", cfg.Cache.MaxRetries)
	}
	if cfg.Global.UserAgent == "" {
		t.Fatalf("UserAgent 应该自动填充默认值")
	}
	if filepath.Base(cfg.Global.SettingsPath) != "settings.json" {
		t.Fatalf("file 后端默认应使用 settings.json，得到 %s", cfg.Global.SettingsPath)
	}
	if !cfg.Cache.FallbackEnabled() {
		t.Fatalf("配置了 DefaultImageURL 时应启用占位图")
	}
}

func TestValidateRejectsBadFile(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	if cfg.Cache.MaxFileCacheAge.DurationValue() != 30*24*time.Hour {
		t.Fatalf("默认过期时间应为 30 天")
	}
	if cfg.Cache.MaxFileCacheSize.Int64() != 500<<20 {
		t.Fatalf("默认磁盘上限应为 500MB")
	}
	if cfg.Cache.MaxRetries != 3 {
		t.Fatalf("默认重试次数应为 3")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateSettingsBackend(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		shouldErr bool
	}{
		{"sqlite ok", SettingsBackendSQLite, false},
		{"file ok", SettingsBackendFile, false},
		{"unsupported", "redis", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.SettingsBackend = tc.backend
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateDefaultImageURL(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.DefaultImageURL = "ftp://example.com/a.jpg"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("非 http 占位图地址应报错")
	}
	if fe, ok := err.(FieldError); !ok || fe.Field != "Cache.DefaultImageURL" {
		t.Fatalf("应返回 DefaultImageURL 字段错误，得到 %v", err)
	}
}

func TestValidateRequiresRetries(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("MaxRetries 为负数时应报错")
	}
}

func TestResolvePathsRejectsSettingsInsideStorage(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.Global.StoragePath = filepath.Join(dir, "images")
	cfg.Global.SettingsPath = filepath.Join(dir, "images", "settings.db")
	if err := cfg.resolvePaths(); err == nil {
		t.Fatalf("设置存储位于缓存目录内部时应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5080,
			StoragePath:     "./data/images",
			SettingsBackend: SettingsBackendSQLite,
			SettingsPath:    "./data/settings.db",
			UpstreamTimeout: Duration(time.Second),
		},
		Cache: CacheConfig{
			MaxMemoryCacheSize:  1 << 20,
			MemoryCacheTTL:      Duration(time.Minute),
			MaxFileCacheSize:    10 << 20,
			MaxFileCacheAge:     Duration(24 * time.Hour),
			MaxRetries:          1,
			InitialBackoff:      Duration(time.Second),
			PrefetchConcurrency: 1,
		},
	}
}
