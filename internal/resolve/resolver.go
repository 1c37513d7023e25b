package resolve

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lnreader/imgcache/internal/cache"
	"github.com/lnreader/imgcache/internal/logging"
)

// ErrNoSource 表示缓存未命中且调用方没有提供远程地址。
var ErrNoSource = errors.New("no source url")

// ImageCache 是 Resolver 依赖的缓存能力，*cache.Manager 实现了它。
type ImageCache interface {
	GetCachedPath(ctx context.Context, category cache.Category, owner, image string) (string, bool)
	CacheImage(ctx context.Context, url string, category cache.Category, owner, image string, opts ...cache.CacheOption) (string, error)
}

// Ref 描述一张待展示的图片。
type Ref struct {
	Category  cache.Category
	Owner     string
	Image     string
	SourceURL string
}

// Result 是解析结果。Err 非空时 Path/URI 为空，界面应展示内置占位图。
type Result struct {
	Ref    Ref
	Path   string
	URI    string
	Cached bool
	Err    error
}

// Available 表示是否拿到了本地文件。
func (r Result) Available() bool {
	return r.Err == nil && r.Path != ""
}

// Resolver 以“先查缓存、未命中再下载”的方式把图片引用解析为本地文件。
type Resolver struct {
	cache       ImageCache
	logger      logrus.FieldLogger
	concurrency int
}

// New 构建 Resolver；concurrency 控制 Prefetch 的并行度。
func New(c ImageCache, logger logrus.FieldLogger, concurrency int) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Resolver{cache: c, logger: logger, concurrency: concurrency}
}

// Resolve 解析单个引用，从不返回 panic 或致命错误，失败体现在 Result.Err。
func (r *Resolver) Resolve(ctx context.Context, ref Ref) Result {
	result := Result{Ref: ref}
	if path, ok := r.cache.GetCachedPath(ctx, ref.Category, ref.Owner, ref.Image); ok {
		result.Path = path
		result.URI = fileURI(path)
		result.Cached = true
		return result
	}
	if ref.SourceURL == "" {
		result.Err = ErrNoSource
		return result
	}

	path, err := r.cache.CacheImage(ctx, ref.SourceURL, ref.Category, ref.Owner, ref.Image)
	if err != nil {
		r.logger.WithError(err).
			WithFields(logging.ImageFields("resolve", string(ref.Category), ref.Owner, ref.Image)).
			Debug("resolve_unavailable")
		result.Err = err
		return result
	}
	result.Path = path
	result.URI = fileURI(path)
	return result
}

// Prefetch 以有限并行度解析一组引用，结果顺序与输入一致。
// 单个失败不影响其它引用；ctx 取消后尚未开始的引用直接返回 ctx 错误。
func (r *Resolver) Prefetch(ctx context.Context, refs []Ref) []Result {
	results := make([]Result, len(refs))
	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		if err := ctx.Err(); err != nil {
			results[i] = Result{Ref: ref, Err: err}
			continue
		}
		group.Go(func() error {
			results[i] = r.Resolve(ctx, ref)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}
