package cache

import (
	"errors"
	"testing"
)

func TestNewKeyValidation(t *testing.T) {
	if _, err := NewKey("poster", "novel", ""); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if _, err := NewKey(CategoryCover, "  ", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for empty owner, got %v", err)
	}
	if _, err := NewKey(CategoryContent, "novel", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for content without image, got %v", err)
	}

	key, err := NewKey(CategoryCover, "novel-1", "ignored.png")
	if err != nil {
		t.Fatalf("cover key: %v", err)
	}
	if key.Image != "" || key.String() != "cover:novel-1" {
		t.Fatalf("cover key should drop image, got %+v (%s)", key, key)
	}

	key, err = NewKey(CategoryContent, "novel-1", "ch1/001.jpg")
	if err != nil {
		t.Fatalf("content key: %v", err)
	}
	if key.String() != "content:novel-1:ch1/001.jpg" {
		t.Fatalf("unexpected content key %s", key)
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory(" Cover "); err != nil || c != CategoryCover {
		t.Fatalf("expected cover, got %q %v", c, err)
	}
	if c, err := ParseCategory("content"); err != nil || c != CategoryContent {
		t.Fatalf("expected content, got %q %v", c, err)
	}
	if _, err := ParseCategory("avatar"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	err := &FetchError{URL: "http://example.invalid/a.jpg", Attempts: 3, Err: &StatusError{Code: 503}}
	var status *StatusError
	if !errors.As(err, &status) || status.Code != 503 {
		t.Fatalf("expected wrapped StatusError, got %v", err)
	}
}

func TestKeyStringEscapesSeparators(t *testing.T) {
	a, _ := NewKey(CategoryContent, "Re:Zero", "x.png")
	b, _ := NewKey(CategoryContent, "Re", "Zero:x.png")
	if a.String() == b.String() {
		t.Fatalf("colon-bearing components collided: %s", a)
	}

	c, _ := NewKey(CategoryContent, `a\`, ":b")
	d, _ := NewKey(CategoryContent, `a\:`, "b")
	if c.String() == d.String() {
		t.Fatalf("backslash-bearing components collided: %s", c)
	}

	plain, _ := NewKey(CategoryContent, "n1", "ch1/001.jpg")
	if plain.String() != "content:n1:ch1/001.jpg" {
		t.Fatalf("plain names should stay readable, got %s", plain)
	}
}
