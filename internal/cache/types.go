package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category 区分封面与正文插图，决定落盘子目录。
type Category string

const (
	CategoryCover   Category = "cover"
	CategoryContent Category = "content"
)

// ParseCategory 解析外部传入的分类名称（大小写不敏感）。
func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryCover:
		return CategoryCover, nil
	case CategoryContent:
		return CategoryContent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
}

// Dir 返回分类对应的子目录名。
func (c Category) Dir() string {
	switch c {
	case CategoryCover:
		return "covers"
	case CategoryContent:
		return "content"
	default:
		return ""
	}
}

func (c Category) valid() bool {
	return c == CategoryCover || c == CategoryContent
}

// Key 唯一定位一张图片：(分类, 所属小说, 图片名)。封面的 Image 恒为空。
type Key struct {
	Category Category
	Owner    string
	Image    string
}

// NewKey 校验并规范化缓存键。
func NewKey(category Category, owner, image string) (Key, error) {
	if !category.valid() {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Key{}, fmt.Errorf("%w: owner required", ErrInvalidKey)
	}
	image = strings.TrimSpace(image)
	if category == CategoryCover {
		image = ""
	} else if image == "" {
		return Key{}, fmt.Errorf("%w: content image name required", ErrInvalidKey)
	}
	return Key{Category: category, Owner: owner, Image: image}, nil
}

// keyEscaper 转义组成部分中的 `\` 与 `:`，使分隔符只出现在组成部分之间。
var keyEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

// String 返回元数据映射中使用的键。各组成部分经过转义，
// 因此 ("Re:Zero", "x.png") 与 ("Re", "Zero:x.png") 得到不同的键。
func (k Key) String() string {
	owner := keyEscaper.Replace(k.Owner)
	if k.Image == "" {
		return string(k.Category) + ":" + owner
	}
	return string(k.Category) + ":" + owner + ":" + keyEscaper.Replace(k.Image)
}

// Entry 是持久化的元数据记录：记录存在当且仅当 Path 处的文件被认为存在。
type Entry struct {
	Path      string   `json:"path"`
	SourceURL string   `json:"source_url"`
	Timestamp int64    `json:"timestamp"`
	SizeBytes int64    `json:"size_bytes"`
	Category  Category `json:"category"`
	Owner     string   `json:"owner"`
	Image     string   `json:"image,omitempty"`
}

// WrittenAt 返回最后写入时间。
func (e Entry) WrittenAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Stats 汇总磁盘与内存层的占用情况。
type Stats struct {
	FileCount        int   `json:"file_count"`
	TotalSizeBytes   int64 `json:"total_size_bytes"`
	MemoryCount      int   `json:"memory_cache_count"`
	MemoryBytes      int64 `json:"memory_cache_bytes"`
	MaxFileCacheSize int64 `json:"max_file_cache_size"`
}

var (
	// ErrInvalidCategory 表示分类不是 cover/content。
	ErrInvalidCategory = errors.New("invalid image category")
	// ErrInvalidKey 表示缓存键缺少必要字段。
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrUnavailable 表示图片（含占位图）均无法获取。
	ErrUnavailable = errors.New("image unavailable")
	// ErrEmptyBody 表示上游返回 200 但正文为空。
	ErrEmptyBody = errors.New("empty response body")
)

// FetchError 描述下载器在耗尽全部重试后的失败。
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError 表示上游返回了非 200 状态码。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected upstream status %d", e.Code)
}
