package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Herd scenario (spec §8 scenario 1): N concurrent Get calls for the same
// missing key with a WithLoader must invoke the loader exactly once.
func TestCache_Get_HerdCoalescesLoaderCalls(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 100})

	var calls int64
	loader := func(context.Context) (string, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "v", nil
	}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	start := make(chan struct{})
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			v, err := c.Get(context.Background(), "k", WithLoader[string, string](loader))
			results[i], errs[i] = v, err
		}()
	}
	close(start)
	wg.Wait()

	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("loader must run exactly once, ran %d times", calls)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != "v" {
			t.Fatalf("caller %d got (%q, %v)", i, results[i], errs[i])
		}
	}

	if v, err := c.Get(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("subsequent Get without a loader should hit the store: got (%q, %v)", v, err)
	}
}

// Batch window scenario (spec §8 scenario 2): concurrent Get calls for
// distinct keys sharing a batch loader ID are coalesced into one upstream
// call.
func TestCache_Get_BatchLoaderCoalescesDistinctKeys(t *testing.T) {
	t.Parallel()

	c := New[int, string](Options[int, string]{MaxSize: 100, BatchWindow: 20 * time.Millisecond})

	var calls int32
	loader := func(_ context.Context, keys []int) (map[int]string, error) {
		atomic.AddInt32(&calls, 1)
		out := make(map[int]string, len(keys))
		for _, k := range keys {
			out[k] = "v"
		}
		return out, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), i, WithBatchLoader[int, string]("L", loader))
			results[i], errs[i] = v, err
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("batch loader must run exactly once, ran %d times", calls)
	}
	for i := 0; i < 3; i++ {
		if errs[i] != nil || results[i] != "v" {
			t.Fatalf("key %d got (%q, %v)", i, results[i], errs[i])
		}
	}
}

// A per-item WithTTL on a WithBatchLoader Get overrides Options.DefaultTTL
// for that item's write-back, the same precedence a WithLoader Get honors
// (spec §3's ttl-override tuple element, §4.4 step 4).
func TestCache_Get_BatchLoaderHonorsPerItemTTLOverride(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[int, string](Options[int, string]{
		MaxSize:     100,
		DefaultTTL:  TTLDuration(time.Hour),
		BatchWindow: 20 * time.Millisecond,
		Clock:       clk,
	})

	loader := func(_ context.Context, keys []int) (map[int]string, error) {
		out := make(map[int]string, len(keys))
		for _, k := range keys {
			out[k] = "v"
		}
		return out, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// key 1 overrides to a short TTL...
		c.Get(context.Background(), 1, WithBatchLoader[int, string]("L", loader), WithTTL[int, string](TTLDuration(100*time.Millisecond)))
	}()
	go func() {
		defer wg.Done()
		// ...while key 2 keeps the cache's hour-long default.
		c.Get(context.Background(), 2, WithBatchLoader[int, string]("L", loader))
	}()
	wg.Wait()

	clk.add(200 * time.Millisecond)
	if _, err := c.Get(context.Background(), 1); !errors.Is(err, ErrAbsent) {
		t.Fatalf("key 1's short override should have expired, got err=%v", err)
	}
	if v, err := c.Get(context.Background(), 2); err != nil || v != "v" {
		t.Fatalf("key 2 should still be resident under the cache default, got (%q, %v)", v, err)
	}
}

// LRU eviction scenario (spec §8 scenario 3): inserting past MaxSize
// evicts recency-oldest entries.
func TestCache_Set_EvictsRecencyOldestPastMaxSize(t *testing.T) {
	t.Parallel()

	c := New[int, int](Options[int, int]{MaxSize: 10})
	for i := 0; i < 20; i++ {
		c.Set(i, i, TTLUnset)
	}

	for i := 0; i < 10; i++ {
		if _, err := c.Get(context.Background(), i); !errors.Is(err, ErrAbsent) {
			t.Fatalf("key %d should have been evicted, got err=%v", i, err)
		}
	}
	for i := 10; i < 20; i++ {
		if v, err := c.Get(context.Background(), i); err != nil || v != i {
			t.Fatalf("key %d should still be resident, got (%d, %v)", i, v, err)
		}
	}
}

type fakeClock struct{ t int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t += int64(d) }

// TTL expiry through the facade (spec §8 scenario 4): waiting past an
// entry's TTL makes a subsequent Get report ErrAbsent, exercised at the
// Cache level (not just store.Store) via the Options.Clock seam.
func TestCache_Get_TTLExpiryViaFakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string, string]{MaxSize: 10, Clock: clk})

	c.Set("k", "v", TTLDuration(100*time.Millisecond))
	if v, err := c.Get(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("fresh entry should be present, got (%q, %v)", v, err)
	}

	clk.add(200 * time.Millisecond)
	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("expired entry should be reported absent, got err=%v", err)
	}
}

// TTL override scenario: an explicit WithTTL on Get's loader beats
// Options.DefaultTTL, and TTLNone overrides a finite default.
func TestCache_Get_TTLOverrideBeatsDefault(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string, string]{MaxSize: 10, DefaultTTL: TTLDuration(time.Hour), Clock: clk})

	loader := func(context.Context) (string, error) { return "v", nil }
	if _, err := c.Get(context.Background(), "k", WithLoader[string, string](loader), WithTTL[string, string](TTLNone)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Set with an explicit override honors the same precedence.
	c.Set("k2", "v2", TTLNone)

	// Past the hour-long default, both TTLNone entries are still resident.
	clk.add(2 * time.Hour)
	if v, err := c.Get(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("loader entry with TTLNone should outlive the default, got (%q, %v)", v, err)
	}
	if v, err := c.Get(context.Background(), "k2"); err != nil || v != "v2" {
		t.Fatalf("got (%q, %v)", v, err)
	}
}

// Loader failure is recoverable: a failing loader does not poison the
// key, and a subsequent call with a succeeding loader resolves normally.
func TestCache_Get_LoaderFailureThenRecover(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	boom := errors.New("boom")

	_, err := c.Get(context.Background(), "k", WithLoader[string, string](func(context.Context) (string, error) {
		return "", boom
	}))
	var le *LoaderError
	if !errors.As(err, &le) || !errors.Is(err, boom) {
		t.Fatalf("want a LoaderError wrapping boom, got %v", err)
	}

	v, err := c.Get(context.Background(), "k", WithLoader[string, string](func(context.Context) (string, error) {
		return "ok", nil
	}))
	if err != nil || v != "ok" {
		t.Fatalf("second call got (%q, %v)", v, err)
	}
}

// Key stability scenario (spec §8 scenario 6) is exercised at the
// keycodec level (internal/keycodec); here we only confirm the facade
// treats equal K values as the same cache entry.
func TestCache_Get_SameKeyHitsSameEntry(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxSize: 10})
	c.Set("k", 42, TTLUnset)

	if v, err := c.Get(context.Background(), "k"); err != nil || v != 42 {
		t.Fatalf("got (%d, %v)", v, err)
	}
}

// Supplying both loader kinds is a programmer error, rejected before any
// state mutation.
func TestCache_Get_BothLoadersIsError(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	_, err := c.Get(context.Background(), "k",
		WithLoader[string, string](func(context.Context) (string, error) { return "v", nil }),
		WithBatchLoader[string, string]("L", func(context.Context, []string) (map[string]string, error) { return nil, nil }),
	)
	if !errors.Is(err, ErrBothLoaders) {
		t.Fatalf("want ErrBothLoaders, got %v", err)
	}
	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("rejected Get must not have mutated state, got %v", err)
	}
}

// A miss with no loader option returns ErrAbsent, not a zero value
// mistaken for a stored one.
func TestCache_Get_AbsentWithoutLoader(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	if _, err := c.Get(context.Background(), "nope"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("want ErrAbsent, got %v", err)
	}
}

// Clear resets both entries and counters (spec §4.5 contractual reset).
func TestCache_Clear_ResetsEntriesAndCounters(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	c.Set("k", "v", TTLUnset)
	c.Get(context.Background(), "k")
	c.Get(context.Background(), "missing")

	c.Clear()
	st := c.Stats()
	if st.Hits != 0 || st.Misses != 0 || st.Size != 0 {
		t.Fatalf("want zeroed stats after Clear, got %+v", st)
	}
	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("k should be gone after Clear, got err=%v", err)
	}
}

// Stats reports hit/miss counters correctly.
func TestCache_Stats_TracksHitsAndMisses(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	c.Set("k", "v", TTLUnset)

	c.Get(context.Background(), "k")
	c.Get(context.Background(), "k")
	c.Get(context.Background(), "missing")

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Fatalf("got %+v, want 2 hits / 1 miss", st)
	}
}

// Delete removes an entry and reports prior presence.
func TestCache_Delete_ReportsPriorPresence(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	c.Set("k", "v", TTLUnset)

	if !c.Delete("k") {
		t.Fatal("want true deleting a present key")
	}
	if c.Delete("k") {
		t.Fatal("want false deleting an absent key")
	}
}

// Warmup observes cache semantics: a key already present is left
// untouched, and every supplied loader for an absent key runs.
func TestCache_Warmup_SkipsPresentKeysAndLoadsAbsent(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	c.Set("present", "original", TTLUnset)

	var loadedAbsent bool
	err := c.Warmup(context.Background(), map[string]func(context.Context) (string, error){
		"present": func(context.Context) (string, error) {
			t.Fatal("loader for an already-present key must not run")
			return "", nil
		},
		"absent": func(context.Context) (string, error) {
			loadedAbsent = true
			return "loaded", nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !loadedAbsent {
		t.Fatal("absent key's loader should have run")
	}
	if v, _ := c.Get(context.Background(), "present"); v != "original" {
		t.Fatalf("present key must be untouched, got %q", v)
	}
	if v, _ := c.Get(context.Background(), "absent"); v != "loaded" {
		t.Fatalf("absent key should now be loaded, got %q", v)
	}
}

// Warmup aborts on the first loader failure.
func TestCache_Warmup_AbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{MaxSize: 10})
	boom := errors.New("boom")

	err := c.Warmup(context.Background(), map[string]func(context.Context) (string, error){
		"k": func(context.Context) (string, error) { return "", boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}
