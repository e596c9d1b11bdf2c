package linecache

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/remux-dev/remux/internal/codec"
)

func TestPutAndGet(t *testing.T) {
	c := New(1024)

	c.Put(10, "hello")
	c.Put(-3, "scrollback")

	got, ok := c.Get(10)
	if !ok || got != "hello" {
		t.Fatalf("Get(10) = %q, %v; want hello", got, ok)
	}
	got, ok = c.Get(-3)
	if !ok || got != "scrollback" {
		t.Fatalf("Get(-3) = %q, %v; want scrollback", got, ok)
	}
	if _, ok := c.Get(11); ok {
		t.Fatal("Get(11) should miss")
	}
}

func TestReplaceAdjustsBytes(t *testing.T) {
	c := New(1024)

	c.Put(1, "aaaaaaaaaa")
	c.Put(1, "bb")

	if c.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", c.Len())
	}
	if c.Bytes() != 2 {
		t.Fatalf("expected 2 bytes after replace, got %d", c.Bytes())
	}
	if got, _ := c.Get(1); got != "bb" {
		t.Fatalf("expected replaced text, got %q", got)
	}
}

func TestBudgetEviction(t *testing.T) {
	// Cache holds max 100 bytes of text.
	c := New(100)

	// 10 rows of 20 bytes each = 200 bytes; the cache must evict to
	// stay under budget, keeping the newest rows.
	for i := 0; i < 10; i++ {
		c.Put(codec.StableRowIndex(i), strings.Repeat("x", 20))
	}

	if c.Bytes() > 100 {
		t.Fatalf("cache size %d exceeds budget 100", c.Bytes())
	}
	if _, ok := c.Get(9); !ok {
		t.Fatal("newest row should survive")
	}
	if _, ok := c.Get(0); ok {
		t.Fatal("oldest row should have been evicted")
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New(100)

	for i := 0; i < 5; i++ {
		c.Put(codec.StableRowIndex(i), strings.Repeat("x", 20))
	}
	// Touch row 0 so row 1 becomes the coldest, then push it out.
	if _, ok := c.Get(0); !ok {
		t.Fatal("row 0 should still be cached")
	}
	c.Put(5, strings.Repeat("x", 20))

	if _, ok := c.Get(0); !ok {
		t.Fatal("recently read row should survive eviction")
	}
	if _, ok := c.Get(1); ok {
		t.Fatal("coldest row should have been evicted")
	}
}

func TestOversizedRowKept(t *testing.T) {
	c := New(10)

	c.Put(1, strings.Repeat("x", 50))

	if c.Len() != 1 {
		t.Fatalf("expected the oversized row to be kept, Len = %d", c.Len())
	}
	if _, ok := c.Get(1); !ok {
		t.Fatal("oversized row should be readable")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(10240)
	var wg sync.WaitGroup

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				row := codec.StableRowIndex(base + i)
				c.Put(row, fmt.Sprintf("row-%d", row))
			}
		}(g * 100)
	}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Get(codec.StableRowIndex(i))
				c.Bytes()
			}
		}()
	}
	wg.Wait()

	if c.Len() == 0 {
		t.Fatal("expected rows after concurrent writes")
	}
}
