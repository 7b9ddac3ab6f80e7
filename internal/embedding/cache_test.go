package embedding

import (
	"fmt"
	"sync"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestEmbeddingCache_GetRefreshesRecency(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a")
	c.Set("c", []float32{3}) // evicts b, not a
	if _, ok := c.Get("a"); !ok {
		t.Error("a was used recently and should remain")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should be evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestEmbeddingCache_Concurrent(t *testing.T) {
	c := NewEmbeddingCache(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*i)%80)
				c.Set(key, []float32{float32(i)})
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("cache exceeded capacity: %d", c.Len())
	}
}

func TestEmbeddingCache_CopiesVectors(t *testing.T) {
	c := NewEmbeddingCache(4)
	in := []float32{1, 2}
	c.Set("chunk", in)
	in[0] = 99

	got, _ := c.Get("chunk")
	if got[0] != 1 {
		t.Errorf("cache shares caller slice: %v", got)
	}
	got[1] = 42
	again, _ := c.Get("chunk")
	if again[1] != 2 {
		t.Errorf("Get result aliases cached vector: %v", again)
	}
}

func TestEmbeddingCache_Stats(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Get("a")
	c.Set("a", []float32{1})
	c.Get("a")
	c.Set("b", []float32{2})

	s := c.Stats()
	if s.Entries != 1 || s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 entry, 1 hit, 1 miss", s)
	}
}
