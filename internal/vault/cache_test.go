package vault

import (
	"bytes"
	"testing"
	"time"
)

func TestCachePutAndGet(t *testing.T) {
	c := NewCache(1<<20, time.Minute)

	c.Put("/data/a.txt", []byte("hello"))
	data, ok := c.Get("/data/a.txt")
	if !ok {
		t.Fatal("Get returned not ok")
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Errorf("data = %q, want hello", data)
	}

	if _, ok := c.Get("/data/missing.txt"); ok {
		t.Error("Get returned ok for missing key")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(1<<20, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Put("/data/a.txt", []byte("hello"))

	clock = clock.Add(59 * time.Second)
	if _, ok := c.Get("/data/a.txt"); !ok {
		t.Error("entry expired before TTL")
	}

	clock = clock.Add(2 * time.Second)
	if _, ok := c.Get("/data/a.txt"); ok {
		t.Error("entry served past TTL")
	}

	// The expired entry no longer counts against the size bound
	if size, count := c.Stats(); size != 0 || count != 0 {
		t.Errorf("size=%d count=%d after expiry, want 0/0", size, count)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(30, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Put("/a", make([]byte, 10))
	clock = clock.Add(time.Second)
	c.Put("/b", make([]byte, 10))
	clock = clock.Add(time.Second)
	c.Put("/c", make([]byte, 10))

	// Touch /a so /b becomes the LRU entry
	clock = clock.Add(time.Second)
	if _, ok := c.Get("/a"); !ok {
		t.Fatal("/a missing before eviction")
	}

	clock = clock.Add(time.Second)
	c.Put("/d", make([]byte, 10))

	if _, ok := c.Get("/b"); ok {
		t.Error("/b should have been evicted as LRU")
	}
	for _, key := range []string{"/a", "/c", "/d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
	if size, _ := c.Stats(); size > 30 {
		t.Errorf("size %d exceeds bound 30", size)
	}
}

func TestCacheRejectsOversizeValue(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Put("/big", make([]byte, 11))
	if _, ok := c.Get("/big"); ok {
		t.Error("oversize value should not be cached")
	}
	if size, count := c.Stats(); size != 0 || count != 0 {
		t.Errorf("size=%d count=%d, want 0/0", size, count)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(1<<20, time.Minute)
	c.Put("/a", []byte("stale"))
	c.Invalidate("/a")
	if _, ok := c.Get("/a"); ok {
		t.Error("invalidated entry still served")
	}
}

func TestCacheReplaceSameKey(t *testing.T) {
	c := NewCache(1<<20, time.Minute)
	c.Put("/a", []byte("one"))
	c.Put("/a", []byte("two"))

	data, ok := c.Get("/a")
	if !ok || string(data) != "two" {
		t.Errorf("data = %q ok=%v, want two", data, ok)
	}
	if size, count := c.Stats(); size != 3 || count != 1 {
		t.Errorf("size=%d count=%d, want 3/1", size, count)
	}
}
