package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("merchant-a", "cat-groceries")
	val, ok := c.Get("merchant-a")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "cat-groceries" {
		t.Errorf("expected 'cat-groceries', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)

	c.Set("merchant-a", "cat-groceries")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("merchant-a")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expected 0 live entries, got %d", c.Len())
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("merchant-a", "cat-groceries")
	c.Delete("merchant-a")

	if _, ok := c.Get("merchant-a"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_OverwriteRefreshesValue(t *testing.T) {
	c := cache.New[int](5 * time.Minute)

	c.Set("k", 1)
	c.Set("k", 2)

	val, ok := c.Get("k")
	if !ok || val != 2 {
		t.Errorf("expected overwritten value 2, got %d (ok=%v)", val, ok)
	}
	if c.Len() != 1 {
		t.Errorf("overwrite must not grow the cache, got %d entries", c.Len())
	}
}
