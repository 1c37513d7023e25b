package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"720h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节容量，兼容 "500MB"、"1GiB" 与纯整数字节数。
// MB/MiB 均按 1024 进制计算。
type ByteSize int64

// UnmarshalText 解析容量字符串。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return units.Base2Bytes(b).String()
}

// ParseByteSize 解析容量字符串，空串视为 0。
func ParseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	parsed, err := units.ParseBase2Bytes(strings.ReplaceAll(raw, " ", ""))
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 设置存储后端。
const (
	SettingsBackendSQLite = "sqlite"
	SettingsBackendFile   = "file"
)

// GlobalConfig 描述进程级行为：监听端口、日志、缓存根目录与设置存储。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	SettingsBackend string   `mapstructure:"SettingsBackend"`
	SettingsPath    string   `mapstructure:"SettingsPath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UserAgent       string   `mapstructure:"UserAgent"`
}

// CacheConfig 对应图片缓存的可选参数，所有字段都有默认值。
type CacheConfig struct {
	MaxMemoryCacheSize  ByteSize `mapstructure:"MaxMemoryCacheSize"`
	MemoryCacheTTL      Duration `mapstructure:"MemoryCacheTTL"`
	MaxFileCacheSize    ByteSize `mapstructure:"MaxFileCacheSize"`
	MaxFileCacheAge     Duration `mapstructure:"MaxFileCacheAge"`
	MaxRetries          int      `mapstructure:"MaxRetries"`
	InitialBackoff      Duration `mapstructure:"InitialBackoff"`
	DefaultImageURL     string   `mapstructure:"DefaultImageURL"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
}

// Config 是 TOML 文件映射的整体结构，所有键均位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:",squash"`
}

// FallbackEnabled 表示是否配置了占位图。
func (c CacheConfig) FallbackEnabled() bool {
	return strings.TrimSpace(c.DefaultImageURL) != ""
}
