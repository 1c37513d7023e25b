package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/lnreader/imgcache/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，供测试与 CLI 兜底使用。
func Default() *Config {
	cfg := &Config{
		Global: GlobalConfig{
			LogLevel:      "info",
			LogMaxSize:    100,
			LogMaxBackups: 10,
			LogCompress:   true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("SettingsBackend", SettingsBackendSQLite)
	v.SetDefault("SettingsPath", "")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxMemoryCacheSize", "50MB")
	v.SetDefault("MemoryCacheTTL", "1h")
	v.SetDefault("MaxFileCacheSize", "500MB")
	v.SetDefault("MaxFileCacheAge", "720h")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("DefaultImageURL", "")
	v.SetDefault("PrefetchConcurrency", 4)
}

// ApplyDefaults 为零值字段填充默认值，允许调用方只构造部分配置。
func ApplyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5080
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.StoragePath == "" {
		g.StoragePath = "./storage"
	}
	g.SettingsBackend = strings.ToLower(strings.TrimSpace(g.SettingsBackend))
	if g.SettingsBackend == "" {
		g.SettingsBackend = SettingsBackendSQLite
	}
	if g.SettingsPath == "" {
		g.SettingsPath = defaultSettingsPath(g.StoragePath, g.SettingsBackend)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = version.UserAgent()
	}

	c := &cfg.Cache
	if c.MaxMemoryCacheSize == 0 {
		c.MaxMemoryCacheSize = 50 << 20
	}
	if c.MemoryCacheTTL.DurationValue() == 0 {
		c.MemoryCacheTTL = Duration(time.Hour)
	}
	if c.MaxFileCacheSize == 0 {
		c.MaxFileCacheSize = 500 << 20
	}
	if c.MaxFileCacheAge.DurationValue() == 0 {
		c.MaxFileCacheAge = Duration(30 * 24 * time.Hour)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff.DurationValue() == 0 {
		c.InitialBackoff = Duration(time.Second)
	}
	if c.PrefetchConcurrency == 0 {
		c.PrefetchConcurrency = 4
	}
	c.DefaultImageURL = strings.TrimSpace(c.DefaultImageURL)
}

// defaultSettingsPath 将设置存储放在缓存根目录旁边，避免 ClearAll 删除整个目录时带走设置。
func defaultSettingsPath(storagePath, backend string) string {
	parent := filepath.Dir(filepath.Clean(storagePath))
	if backend == SettingsBackendFile {
		return filepath.Join(parent, "settings.json")
	}
	return filepath.Join(parent, "settings.db")
}

func (c *Config) resolvePaths() error {
	absStorage, err := filepath.Abs(c.Global.StoragePath)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	c.Global.StoragePath = absStorage

	absSettings, err := filepath.Abs(c.Global.SettingsPath)
	if err != nil {
		return fmt.Errorf("无法解析设置存储路径: %w", err)
	}
	c.Global.SettingsPath = absSettings

	if isWithin(absStorage, absSettings) {
		return newFieldError("Global.SettingsPath", "不能位于 StoragePath 内部")
	}
	return nil
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := ParseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析容量字段: %s", v)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的容量类型: %T", v)
		}
	}
}
