package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kailas-cloud/recall/internal/domain"
)

func TestNewLRU_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := NewLRU[string, int](capacity)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("capacity %d: expected ErrInvalidArgument, got %v", capacity, err)
		}
	}
}

func TestLRU_EvictsOldestOverCapacity(t *testing.T) {
	c, err := NewLRU[string, int](3)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}

	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
		if c.Len() > 3 {
			t.Fatalf("size %d exceeds capacity", c.Len())
		}
	}

	if c.Contains("k0") {
		t.Error("first-inserted key should be evicted")
	}
	for i := 1; i < 4; i++ {
		if !c.Contains(fmt.Sprintf("k%d", i)) {
			t.Errorf("k%d should still be present", i)
		}
	}
}

func TestLRU_GetProtectsRecency(t *testing.T) {
	c, _ := NewLRU[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a present")
	}

	// C-1 = 2 new keys must not evict the freshly accessed key.
	c.Put("d", 4)
	c.Put("e", 5)
	if !c.Contains("a") {
		t.Error("accessed key evicted too early")
	}

	// One more insert makes C new keys since the access: now it goes.
	c.Put("f", 6)
	if c.Contains("a") {
		t.Error("accessed key should be evicted after capacity new keys")
	}
}

func TestLRU_EndToEnd(t *testing.T) {
	c, _ := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a present")
	}
	c.Put("c", 3)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("expected a=1, got %d (present=%v)", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("expected c=3, got %d (present=%v)", v, ok)
	}
	if c.Contains("b") {
		t.Error("b should be evicted")
	}
}

func TestLRU_PutOverwriteRefreshesRecency(t *testing.T) {
	c, _ := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10) // overwrite, a becomes most recent
	c.Put("c", 3)  // evicts b

	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("expected a=10, got %d (present=%v)", v, ok)
	}
	if c.Contains("b") {
		t.Error("b should be evicted")
	}
}

func TestLRU_GetMissHasNoSideEffects(t *testing.T) {
	c, _ := NewLRU[string, int](2)
	c.Put("a", 1)

	if _, ok := c.Get("nope"); ok {
		t.Fatal("unexpected hit")
	}
	if c.Len() != 1 {
		t.Errorf("expected size 1, got %d", c.Len())
	}
}

func TestLRU_ClearAndStats(t *testing.T) {
	c, _ := NewLRU[string, int](4)
	c.Put("a", 1)
	c.Put("b", 2)

	s := c.Stats()
	if s.Size != 2 || s.Capacity != 4 || s.Utilization != 0.5 {
		t.Errorf("unexpected stats: %+v", s)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d", c.Len())
	}
	if c.Contains("a") {
		t.Error("a should be gone after Clear")
	}
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c, _ := NewLRU[int, int](64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Put(g*1000+i%100, i)
				c.Get(g*1000 + i%100)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("size %d exceeds capacity under concurrency", c.Len())
	}
}
