package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lnreader/imgcache/internal/kvstore"
)

// fakeUpstream 记录每个路径的 GET 次数；未注册的路径返回 404。
type fakeUpstream struct {
	server *httptest.Server

	mu     sync.Mutex
	bodies map[string][]byte
	hits   map[string]int
	delay  time.Duration
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	up := &fakeUpstream{bodies: map[string][]byte{}, hits: map[string]int{}}
	up.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.mu.Lock()
		up.hits[r.URL.Path]++
		body, ok := up.bodies[r.URL.Path]
		delay := up.delay
		up.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(body)
	}))
	t.Cleanup(up.server.Close)
	return up
}

func (u *fakeUpstream) serve(path string, body []byte) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bodies[path] = body
	return u.server.URL + path
}

func (u *fakeUpstream) url(path string) string {
	return u.server.URL + path
}

func (u *fakeUpstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// countingStore 统计 Set 调用次数，用于断言“无变化不写回”。
type countingStore struct {
	kvstore.Store

	mu   sync.Mutex
	sets int
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.Store.Set(ctx, key, value)
}

func (s *countingStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestStore(t *testing.T) *countingStore {
	t.Helper()
	store, err := kvstore.Open(kvstore.BackendFile, filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("open settings store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &countingStore{Store: store}
}

func newTestDownloader(up *fakeUpstream, attempts int) *Downloader {
	d := NewDownloader(DownloaderOptions{
		Client:      up.server.Client(),
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Logger:      quietLogger(),
	})
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

type managerFixture struct {
	manager  *Manager
	store    *countingStore
	upstream *fakeUpstream
	root     string
}

func newTestManager(t *testing.T, mutate func(*Options)) *managerFixture {
	t.Helper()
	up := newFakeUpstream(t)
	store := newTestStore(t)
	root := filepath.Join(t.TempDir(), "images")

	opts := Options{
		Root:             root,
		Store:            store,
		Fetcher:          newTestDownloader(up, 3),
		Logger:           quietLogger(),
		MaxMemoryBytes:   1 << 20,
		MemoryTTL:        time.Hour,
		MaxFileBytes:     1 << 20,
		MaxFileAge:       24 * time.Hour,
		SkipStartupSweep: true,
	}
	if mutate != nil {
		mutate(&opts)
	}

	manager, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return &managerFixture{manager: manager, store: store, upstream: up, root: root}
}
