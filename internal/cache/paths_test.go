package cache

import (
	"path/filepath"
	"strings"
	"testing"
)

func mustKey(t *testing.T, category Category, owner, image string) Key {
	t.Helper()
	key, err := NewKey(category, owner, image)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return key
}

func TestLayoutPathIsDeterministic(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("layout: %v", err)
	}

	cover := mustKey(t, CategoryCover, "novel-42", "")
	first := layout.Path(cover)
	if second := layout.Path(cover); first != second {
		t.Fatalf("cover path changed between calls: %s vs %s", first, second)
	}
	if filepath.Dir(first) != layout.CategoryDir(CategoryCover) || filepath.Ext(first) != ".jpg" {
		t.Fatalf("unexpected cover path %s", first)
	}

	content := mustKey(t, CategoryContent, "novel-42", "illust_01.png")
	path := layout.Path(content)
	if path != layout.Path(content) {
		t.Fatalf("content path not deterministic")
	}
	if !strings.HasPrefix(path, layout.CategoryDir(CategoryContent)+string(filepath.Separator)) {
		t.Fatalf("content path outside content dir: %s", path)
	}
	if filepath.Ext(path) != ".png" {
		t.Fatalf("content path should keep image extension: %s", path)
	}
}

func TestLayoutPathSeparatesSimilarNames(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())
	a := layout.Path(mustKey(t, CategoryContent, "novel", "a/b.jpg"))
	b := layout.Path(mustKey(t, CategoryContent, "novel", "a_b.jpg"))
	if a == b {
		t.Fatalf("sanitised names collided: %s", a)
	}

	c := layout.Path(mustKey(t, CategoryCover, "x/y", ""))
	d := layout.Path(mustKey(t, CategoryCover, "x_y", ""))
	if c == d {
		t.Fatalf("sanitised owners collided: %s", c)
	}
}

func TestLayoutPathStaysUnderRoot(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())
	path := layout.Path(mustKey(t, CategoryContent, "../../etc", "../passwd"))
	rel, err := filepath.Rel(layout.Root(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("path escaped cache root: %s", path)
	}
	if filepath.Ext(path) != ".img" {
		t.Fatalf("unknown extension should map to .img, got %s", path)
	}
}

func TestFragmentTruncatesLongNames(t *testing.T) {
	long := strings.Repeat("章", 200)
	frag := fragment(long)
	name, _, ok := strings.Cut(frag, "-")
	if !ok || len([]rune(name)) != 64 {
		t.Fatalf("expected 64-rune prefix, got %q", frag)
	}
}

func TestLayoutPathSeparatesExtensionCase(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())
	upper := layout.Path(mustKey(t, CategoryContent, "N", "A.PNG"))
	lower := layout.Path(mustKey(t, CategoryContent, "N", "A.png"))
	if upper == lower {
		t.Fatalf("extension case variants collided: %s", upper)
	}
	if filepath.Ext(upper) != ".png" || filepath.Ext(lower) != ".png" {
		t.Fatalf("extensions should be normalised to lower case: %s %s", upper, lower)
	}
}
