package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Fetcher 将远程图片落地到本地路径，Downloader 是默认实现。
type Fetcher interface {
	Download(ctx context.Context, url, dst string) error
}

// DownloaderOptions 控制重试次数、退避基数与请求头。
type DownloaderOptions struct {
	Client      *http.Client
	MaxAttempts int
	BaseDelay   time.Duration
	UserAgent   string
	Logger      logrus.FieldLogger
	Metrics     *Metrics
}

// Downloader 以线性退避重试下载：第 n 次失败后等待 n*BaseDelay。
type Downloader struct {
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	userAgent   string
	logger      logrus.FieldLogger
	metrics     *Metrics
	sleep       func(context.Context, time.Duration) error
}

// NewDownloader 构造下载器，未设置的字段使用默认值（3 次尝试、1s 基数）。
func NewDownloader(opts DownloaderOptions) *Downloader {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := opts.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Downloader{
		client:      client,
		maxAttempts: attempts,
		baseDelay:   delay,
		userAgent:   opts.UserAgent,
		logger:      logger,
		metrics:     opts.Metrics,
		sleep:       sleepContext,
	}
}

// Download 下载 url 到 dst。只有 200 且正文完整写入才算成功，耗尽重试后返回 *FetchError。
func (d *Downloader) Download(ctx context.Context, url, dst string) error {
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		attempts = attempt
		started := time.Now()
		err := d.fetchOnce(ctx, url, dst)
		if err == nil {
			d.metrics.observeDownload("ok", time.Since(started))
			return nil
		}
		lastErr = err

		fields := logrus.Fields{
			"action":  "download",
			"url":     url,
			"attempt": attempt,
		}
		if attempt >= d.maxAttempts || ctx.Err() != nil {
			d.metrics.observeDownload("failed", time.Since(started))
			d.logger.WithError(err).WithFields(fields).Warn("download_failed")
			break
		}

		d.metrics.observeDownload("retry", time.Since(started))
		delay := time.Duration(attempt) * d.baseDelay
		fields["delay_ms"] = delay.Milliseconds()
		d.logger.WithError(err).WithFields(fields).Info("download_retry")
		if err := d.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func (d *Downloader) fetchOnce(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return &StatusError{Code: resp.StatusCode}
	}

	return writeAtomically(ctx, dst, resp.Body)
}

// writeAtomically 先写入同目录下唯一命名的临时文件，再 rename 覆盖目标，
// 因此并发写同一路径时读者只会看到某一次完整的写入。
func writeAtomically(ctx context.Context, dst string, body io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempName := filepath.Join(dir, ".download-"+uuid.NewString())
	tempFile, err := os.OpenFile(tempName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	written, err := copyWithContext(ctx, tempFile, body)
	if err == nil && written == 0 {
		err = ErrEmptyBody
	}
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, dst); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
