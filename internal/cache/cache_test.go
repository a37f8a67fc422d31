package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "rules:active", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	got, err := c.Get(ctx, "rules:active")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
}

func TestLRUMissReturnsNil(t *testing.T) {
	c := NewLRUCache(10)

	got, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %q", got)
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("value"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	got, _ := c.Get(ctx, "key")
	if got != nil {
		t.Errorf("expected expired entry to miss, got %q", got)
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry removed, len %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("v"), time.Minute)
	}

	// Touch key-0 so key-1 becomes least recently used.
	c.Get(ctx, "key-0")

	c.Set(ctx, "key-3", []byte("v"), time.Minute)

	if got, _ := c.Get(ctx, "key-1"); got != nil {
		t.Error("expected key-1 evicted")
	}
	if got, _ := c.Get(ctx, "key-0"); got == nil {
		t.Error("expected key-0 retained")
	}
	if c.Len() != 3 {
		t.Errorf("expected len 3, got %d", c.Len())
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("value"), time.Minute)
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if got, _ := c.Get(ctx, "key"); got != nil {
		t.Error("expected deleted key to miss")
	}

	// Deleting a missing key is not an error.
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLRUOverwrite(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("old"), time.Minute)
	c.Set(ctx, "key", []byte("new"), time.Minute)

	got, _ := c.Get(ctx, "key")
	if string(got) != "new" {
		t.Errorf("expected overwrite, got %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("expected single entry, got %d", c.Len())
	}
}

func TestNewMemoryCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestNewUnknownCacheType(t *testing.T) {
	_, err := New(domain.CacheConfig{Type: "memcached"})
	if err == nil {
		t.Error("expected error for unknown cache type")
	}
}
