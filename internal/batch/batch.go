// Package batch implements BatchCoalescer (spec §4.4): coalescing
// concurrent misses across different keys into one upstream call per
// batch loader identity, flushed by a time window or a size threshold.
//
// Grounded on original_source/cache/async_cache.py's
// _batch_pending/_batch_lock/_batch_timer/_flush_batch, translated from
// asyncio tasks+locks to goroutines+sync.Mutex+time.AfterFunc.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BatchLoader loads a set of keys in one upstream call, returning a
// mapping from key to value; a key absent from the result resolves to the
// absent-value indicator (spec §6).
type BatchLoader[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// ErrLengthMismatch is returned to every item in a group when its batch
// loader's result map contains a key outside the batch it was handed —
// the loader returned more (or different) keys than were requested
// (spec §7's "batch loader returned a list of the wrong length").
var ErrLengthMismatch = errors.New("batch: loader returned a key not present in the requested batch")

// Result is delivered to each Enqueue caller exactly once.
type Result[V any] struct {
	Value V
	Found bool
	Err   error
}

type queued[K comparable, V any] struct {
	key      K
	loaderID string
	loader   BatchLoader[K, V]
	resultCh chan Result[V]
	// ttl is an opaque per-item TTL override (spec §3's "ttl-override?" in
	// the (K, Promise<V>, BatchLoaderId, ttl-override?) tuple), passed
	// through unexamined to onResolve — this package has no notion of what
	// a TTL is, only the facade that supplies onResolve does.
	ttl any
}

// Coalescer implements BatchCoalescer. Items are grouped by loaderID
// (different loader identities are never merged, spec §4.4 step 2) — Go
// function values aren't comparable, so callers supply a stable string
// identity for their batch loader alongside the loader itself.
type Coalescer[K comparable, V any] struct {
	mu      sync.Mutex
	queue   []*queued[K, V]
	timer   *time.Timer
	window  time.Duration
	maxSize int

	// onResolve is invoked for every successfully-loaded (key, value) pair
	// under the Coalescer's own lock, before that item's Result is
	// delivered on its channel. This is how the facade satisfies spec
	// §4.4 step 4 ("All writes happen before promises are resolved for
	// items of that group"). ttl is that item's opaque TTL override, as
	// supplied to Enqueue.
	onResolve func(k K, v V, ttl any)

	// OnFlush, if set, is called once per loader-identity group after its
	// upstream call returns (success or failure), for ambient logging.
	// Exposed as a settable field rather than a New parameter so
	// internal/batch stays independent of any particular logging library.
	OnFlush func(loaderID string, groupSize int, elapsed time.Duration)
}

// New constructs a Coalescer with the given flush window and size
// threshold (spec §4.4 configuration: batch_window, max_batch_size).
func New[K comparable, V any](window time.Duration, maxSize int, onResolve func(k K, v V, ttl any)) *Coalescer[K, V] {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Coalescer[K, V]{window: window, maxSize: maxSize, onResolve: onResolve}
}

// Enqueue appends (key, loaderID, loader) to the pending batch and returns
// a channel that receives exactly one Result once this item's group has
// flushed. If the queue reaches maxSize, an immediate flush is triggered
// within the same critical section (spec §4.4 step 2); otherwise a flush
// timer is armed if one isn't already (step 3).
//
// ctx is not threaded into the shared upstream call: a batch is, by
// construction, shared by callers with independent contexts, so no single
// caller's cancellation can abort it without stranding the rest of the
// group (the same reasoning spec §5 applies to follower-side singleflight
// cancellation). Callers that need to stop waiting race the returned
// channel against their own ctx.Done().
func (c *Coalescer[K, V]) Enqueue(key K, loaderID string, loader BatchLoader[K, V], ttl any) <-chan Result[V] {
	resultCh := make(chan Result[V], 1)
	q := &queued[K, V]{key: key, loaderID: loaderID, loader: loader, resultCh: resultCh, ttl: ttl}

	c.mu.Lock()
	c.queue = append(c.queue, q)
	if len(c.queue) >= c.maxSize {
		c.flushLocked()
		c.mu.Unlock()
		return resultCh
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.onTimer)
	}
	c.mu.Unlock()
	return resultCh
}

func (c *Coalescer[K, V]) onTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = nil
	// A flush triggered by the size threshold may have already drained
	// the queue and raced this timer firing; flushLocked's empty-queue
	// guard prevents a second, empty flush from doing any observable work.
	c.flushLocked()
}

// flushLocked snapshots and clears the queue, groups items by loaderID,
// invokes each group's loader, and resolves every item's channel. It runs
// for the entire duration under c.mu — including the loader calls — per
// spec §5's lock-order note: serialising flushes is cheaper than reasoning
// about overlapping ones. Items enqueued while a flush is running belong
// to the next batch (spec §4.4 "Ordering guarantee"), since Enqueue blocks
// on the same mutex.
func (c *Coalescer[K, V]) flushLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.queue) == 0 {
		return
	}

	batch := c.queue
	c.queue = nil

	groups := make(map[string][]*queued[K, V])
	order := make([]string, 0, 4)
	for _, q := range batch {
		if _, ok := groups[q.loaderID]; !ok {
			order = append(order, q.loaderID)
		}
		groups[q.loaderID] = append(groups[q.loaderID], q)
	}

	for _, id := range order {
		items := groups[id]
		keys := make([]K, len(items))
		requested := make(map[K]struct{}, len(items))
		for i, it := range items {
			keys[i] = it.key
			requested[it.key] = struct{}{}
		}

		flushStart := time.Now()
		values, err := items[0].loader(context.Background(), keys)
		if c.OnFlush != nil {
			c.OnFlush(id, len(items), time.Since(flushStart))
		}
		if err == nil {
			for k := range values {
				if _, ok := requested[k]; !ok {
					err = fmt.Errorf("%w: %v", ErrLengthMismatch, k)
					break
				}
			}
		}
		if err != nil {
			for _, it := range items {
				it.resultCh <- Result[V]{Err: err}
			}
			continue
		}

		for _, it := range items {
			v, found := values[it.key]
			if found && c.onResolve != nil {
				c.onResolve(it.key, v, it.ttl)
			}
			it.resultCh <- Result[V]{Value: v, Found: found}
		}
	}
}
