package cache

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	fc "github.com/gofhir/codegen"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, json.RawMessage]()

	c.Set("http://hl7.org/fhir/StructureDefinition/Patient", json.RawMessage(`{"name":"Patient"}`))

	v, ok := c.Get("http://hl7.org/fhir/StructureDefinition/Patient")
	if !ok || string(v) != `{"name":"Patient"}` {
		t.Errorf("Get(Patient) = %s, %v; want Patient, true", v, ok)
	}

	if _, ok := c.Get("http://hl7.org/fhir/StructureDefinition/Missing"); ok {
		t.Error("Get(Missing) should return false")
	}
}

func TestCache_Update(t *testing.T) {
	c := New[string, bool]()

	c.Set("string", false)
	c.Set("string", true)

	if v, ok := c.Get("string"); !ok || !v {
		t.Errorf("Get(string) = %v, %v; want true, true", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d; want 1", c.Len())
	}
}

func TestCache_Unbounded(t *testing.T) {
	c := New[int, int]()
	for i := 0; i < 5000; i++ {
		c.Set(i, i)
	}
	if c.Len() != 5000 {
		t.Errorf("Len() = %d; want 5000", c.Len())
	}
	if v, ok := c.Get(0); !ok || v != 0 {
		t.Errorf("Get(0) = %d, %v; first entry should not be evicted", v, ok)
	}
}

func TestCache_Clear(t *testing.T) {
	c := New[string, int]()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d; want 0", c.Len())
	}
	if s := c.Stats(); s.Hits != 1 {
		t.Errorf("Stats.Hits after Clear = %d; want 1", s.Hits)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New[string, int]()

	c.Set("a", 1)
	c.Set("b", 2)

	c.Get("a") // hit
	c.Get("a") // hit
	c.Get("c") // miss

	stats := c.Stats()

	if stats.Size != 2 {
		t.Errorf("Stats.Size = %d; want 2", stats.Size)
	}
	if stats.Hits != 2 {
		t.Errorf("Stats.Hits = %d; want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Stats.Misses = %d; want 1", stats.Misses)
	}
	if stats.Sets != 2 {
		t.Errorf("Stats.Sets = %d; want 2", stats.Sets)
	}

	expectedHitRate := 2.0 / 3.0
	if stats.HitRate < expectedHitRate-0.01 || stats.HitRate > expectedHitRate+0.01 {
		t.Errorf("Stats.HitRate = %f; want ~%f", stats.HitRate, expectedHitRate)
	}
}

func TestCache_WithMetrics(t *testing.T) {
	m := fc.NewMetrics(nil)
	c := New[string, bool](WithMetrics(m, fc.CachePrimitive))

	c.Set("string", true)
	c.Get("string")
	c.Get("HumanName")

	if m.CacheHits() != 1 {
		t.Errorf("CacheHits() = %d; want 1", m.CacheHits())
	}
	if m.CacheMisses() != 1 {
		t.Errorf("CacheMisses() = %d; want 1", m.CacheMisses())
	}
}

func TestCache_GetOrSet(t *testing.T) {
	c := New[string, int]()

	calls := 0
	v := c.GetOrSet("a", func() int {
		calls++
		return 42
	})
	if v != 42 {
		t.Errorf("GetOrSet = %d; want 42", v)
	}

	v = c.GetOrSet("a", func() int {
		calls++
		return 99
	})
	if v != 42 {
		t.Errorf("GetOrSet = %d; want 42 (cached)", v)
	}
	if calls != 1 {
		t.Errorf("fn called %d times; want 1", calls)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int]()

	var wg sync.WaitGroup
	n := 100

	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Set(i, i*10)
		}(i)
		go func(i int) {
			defer wg.Done()
			c.Get(i)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if v, ok := c.Get(i); !ok || v != i*10 {
			t.Errorf("Get(%d) = %d, %v; want %d, true", i, v, ok, i*10)
		}
	}
}

func BenchmarkCache_Get(b *testing.B) {
	c := New[string, int]()
	for i := 0; i < 1000; i++ {
		c.Set(strconv.Itoa(i), i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(strconv.Itoa(i % 1000))
	}
}

func BenchmarkCache_Concurrent(b *testing.B) {
	c := New[int, int]()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%4 == 0 {
				c.Set(i%1000, i)
			} else {
				c.Get(i % 1000)
			}
			i++
		}
	})
}
