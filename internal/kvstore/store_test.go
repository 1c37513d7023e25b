package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := Open(BackendSQLite, filepath.Join(dir, "settings.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	file, err := Open(BackendFile, filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	t.Cleanup(func() {
		sqlite.Close()
		file.Close()
	})
	return map[string]Store{"sqlite": sqlite, "file": file}
}

func TestStoreSetGetDelete(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := store.Set(ctx, "theme", []byte("dark")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := store.Set(ctx, "theme", []byte("light")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := store.Get(ctx, "theme")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "light" {
				t.Fatalf("last write should win, got %q", got)
			}

			if err := store.Delete(ctx, "theme"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get(ctx, "theme"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := store.Delete(ctx, "theme"); err != nil {
				t.Fatalf("deleting a missing key should not fail: %v", err)
			}
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Set(context.Background(), " ", []byte("x")); err == nil {
				t.Fatalf("empty key should be rejected")
			}
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	store.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("value not persisted: %q %v", got, err)
	}
}

func TestFileStoreRecoversFromCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt doc: %v", err)
	}
	store, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Get(ctx, "k"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt document should surface a decode error, got %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set should rebuild the document: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("value not readable after rebuild: %q %v", got, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files should not be left behind, got %d entries", len(entries))
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("redis", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}
