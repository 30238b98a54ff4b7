package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTL[float64]()
	c.Set("bitcoin", 50000, time.Minute)

	v, ok := c.Get("bitcoin")
	if !ok || v != 50000 {
		t.Fatalf("Get = %v, %v; want 50000, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTL[string]()
	c.Set("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}

	c.Set("gone", "v", 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	c.Sweep()
	if _, ok := c.Get("gone"); ok {
		t.Fatal("expected swept entry to miss")
	}
}

func TestTTLCacheConcurrent(t *testing.T) {
	c := NewTTL[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%10)
				c.Set(key, n, time.Second)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}
