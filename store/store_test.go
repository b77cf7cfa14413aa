package store

import (
	"testing"
	"time"

	lrupolicy "github.com/asyncflight/cache/policy/lru"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t += int64(d) }

func newLRU[K comparable, V any](maxSize int, clock Clock) *Store[K, V] {
	return New[K, V](maxSize, lrupolicy.New[K, V](), clock, nil)
}

// Read-your-write: Put(k,v) then Get(k) returns v.
func TestStore_ReadYourWrite(t *testing.T) {
	t.Parallel()

	s := newLRU[string, string](8, nil)
	s.Put("a", "1", 0)
	if v, ok := s.Get("a"); !ok || v != "1" {
		t.Fatalf("want 1, got %v ok=%v", v, ok)
	}
}

// Add-already-present updates value and expiry in place (I4) and promotes recency.
func TestStore_PutUpdatesInPlace(t *testing.T) {
	t.Parallel()

	s := newLRU[string, int](8, nil)
	s.Put("a", 1, 0)
	s.Put("a", 2, 0)
	if v, ok := s.Get("a"); !ok || v != 2 {
		t.Fatalf("want 2, got %v ok=%v", v, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("want len 1, got %d", s.Len())
	}
}

// LRU boundedness + eviction order (spec §8): among the maxSize most
// recently accessed distinct keys, none are evicted.
func TestStore_LRUEvictionOrder(t *testing.T) {
	t.Parallel()

	s := newLRU[int, int](50, nil)
	for i := 0; i < 100; i++ {
		s.Put(i, i, 0)
	}
	if got := s.Len(); got != 50 {
		t.Fatalf("want size 50, got %d", got)
	}
	// The 50 most-recently-inserted keys (50..99) must be present.
	for i := 50; i < 100; i++ {
		if !s.Contains(i) {
			t.Fatalf("key %d should still be resident", i)
		}
	}
	for i := 0; i < 50; i++ {
		if s.Contains(i) {
			t.Fatalf("key %d should have been evicted", i)
		}
	}
}

// Contains must lazily evict an expired entry (I3) without promoting it.
func TestStore_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := newLRU[string, string](4, clk)

	s.Put("x", "v", clk.t+int64(100*time.Millisecond))
	if !s.Contains("x") {
		t.Fatal("fresh entry should be present")
	}
	clk.add(200 * time.Millisecond)
	if s.Contains("x") {
		t.Fatal("expired entry must be reported absent")
	}
	if _, ok := s.Get("x"); ok {
		t.Fatal("expired entry must be an absent Get")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry must have been physically removed, len=%d", s.Len())
	}
}

// Delete is not an error on an absent key.
func TestStore_DeleteAbsentIsNoop(t *testing.T) {
	t.Parallel()

	s := newLRU[string, string](4, nil)
	if s.Delete("missing") {
		t.Fatal("Delete of an absent key must report false")
	}
	s.Put("a", "1", 0)
	if !s.Delete("a") {
		t.Fatal("Delete of a present key must report true")
	}
	if s.Contains("a") {
		t.Fatal("key must be gone after Delete")
	}
}

// Clear empties the store entirely.
func TestStore_Clear(t *testing.T) {
	t.Parallel()

	s := newLRU[int, int](8, nil)
	for i := 0; i < 8; i++ {
		s.Put(i, i, 0)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("want len 0 after Clear, got %d", s.Len())
	}
	s.Clear() // idempotent
	if s.Len() != 0 {
		t.Fatalf("double Clear must stay at len 0, got %d", s.Len())
	}
}

// Get promotes recency; a subsequent overflow must spare the just-read key.
func TestStore_GetPromotesRecency(t *testing.T) {
	t.Parallel()

	s := newLRU[int, int](2, nil)
	s.Put(1, 1, 0)
	s.Put(2, 2, 0)
	s.Get(1) // promote 1 to MRU; 2 is now LRU
	s.Put(3, 3, 0)

	if !s.Contains(1) {
		t.Fatal("recently-read key 1 must survive eviction")
	}
	if s.Contains(2) {
		t.Fatal("key 2 (LRU after promotion of 1) must have been evicted")
	}
}
