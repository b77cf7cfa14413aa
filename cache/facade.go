// Package cache implements CacheFacade (spec §4.5): the coordinating
// entry point that composes LRUStore, SingleFlight, and BatchCoalescer
// behind a single Get/Set/Delete/Clear/Stats API.
//
// Grounded on the teacher's cache/cache.go + cache/options.go + cache/
// api.go (Options shape, TTL-deadline math, the Metrics seam), generalized
// from a sharded multi-instance model to one coordinated facade over
// store.Store, and extended with batch-loader support and structured
// logging that the teacher's package never had.
package cache

import (
	"context"
	"time"

	"github.com/asyncflight/cache/internal/batch"
	"github.com/asyncflight/cache/internal/singleflight"
	"github.com/asyncflight/cache/internal/util"
	lrupolicy "github.com/asyncflight/cache/policy/lru"
	"github.com/asyncflight/cache/store"
	"github.com/rs/zerolog"
)

type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Cache is CacheFacade: a bounded, concurrency-safe, loader-coalescing
// cache over keys K and values V.
type Cache[K comparable, V any] struct {
	store *store.Store[K, V]
	sf    singleflight.Group[K, V]
	bc    *batch.Coalescer[K, V]

	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64

	defaultTTL TTL
	log        zerolog.Logger
	metrics    Metrics
	clock      store.Clock
}

// New constructs a Cache per the given Options (spec §6).
func New[K comparable, V any](opt Options[K, V]) *Cache[K, V] {
	pol := opt.Policy
	if pol == nil {
		pol = lrupolicy.New[K, V]()
	}

	log := zerolog.Nop()
	if opt.Logger != nil {
		log = *opt.Logger
	}

	metrics := opt.Metrics
	if metrics == nil {
		metrics = NoopMetrics
	}

	window := opt.BatchWindow
	if window <= 0 {
		window = defaultBatchWindow
	}
	maxBatch := opt.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}

	clock := opt.Clock
	if clock == nil {
		clock = systemClock{}
	}

	c := &Cache[K, V]{
		defaultTTL: opt.DefaultTTL,
		log:        log,
		metrics:    metrics,
		clock:      clock,
	}

	c.store = store.New[K, V](opt.MaxSize, pol, c.clock, c.onEvict)

	// Each batched item carries its own TTL override through to this
	// write-back hook (spec §3's "ttl-override?" in the (K, Promise<V>,
	// BatchLoaderId, ttl-override?) tuple; spec §4.4 step 4 "item's
	// effective TTL"), resolved the same way a WithLoader Get resolves it:
	// explicit override beats Options.DefaultTTL.
	c.bc = batch.New[K, V](window, maxBatch, func(k K, v V, ttlOverride any) {
		ttl := ttlOverride.(TTL)
		c.store.Put(k, v, ttl.resolve(c.defaultTTL).expiryAt(c.clock.NowUnixNano()))
		c.reportSize()
	})
	c.bc.OnFlush = func(loaderID string, groupSize int, elapsed time.Duration) {
		c.log.Debug().Str("loader_id", loaderID).Int("group_size", groupSize).Dur("elapsed", elapsed).Msg("cache: batch flush")
	}

	return c
}

func (c *Cache[K, V]) onEvict(k K, _ V, reason store.EvictReason) {
	r := translateEvictReason(reason)
	c.metrics.Evict(r)
	c.log.Debug().Interface("key", k).Str("reason", r.String()).Msg("cache: evicted entry")
}

// reportSize pushes the store's current entry count to the external
// Metrics sink (spec §4.7's size_entries gauge), grounded on the teacher's
// shard.go calling s.opt.Metrics.Size after every limit enforcement.
func (c *Cache[K, V]) reportSize() {
	c.metrics.Size(c.store.Len())
}

func translateEvictReason(r store.EvictReason) EvictReason {
	switch r {
	case store.EvictTTL:
		return EvictTTL
	case store.EvictExplicit:
		return EvictExplicit
	default:
		return EvictPolicy
	}
}

// Get returns the value for k, loading it on a miss per opts (spec §4.5).
//
//   - No loader option and a miss: returns (zero, ErrAbsent).
//   - WithLoader: the miss is resolved via SingleFlight, coalescing
//     concurrent Get calls for the same k onto one invocation of fn.
//   - WithBatchLoader: the miss is enqueued onto the shared BatchCoalescer,
//     coalescing concurrent Get calls for *different* keys that share the
//     same loaderID into one upstream call.
//   - WithLoader and WithBatchLoader together is a programmer error
//     (ErrBothLoaders), checked before any state mutation.
func (c *Cache[K, V]) Get(ctx context.Context, k K, opts ...GetOption[K, V]) (V, error) {
	var zero V
	var cfg getConfig[K, V]
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.loader != nil && cfg.batchLoader != nil {
		return zero, ErrBothLoaders
	}

	if v, ok := c.store.Get(k); ok {
		c.hits.Add(1)
		c.metrics.Hit()
		return v, nil
	}
	c.misses.Add(1)
	c.metrics.Miss()

	switch {
	case cfg.loader != nil:
		return c.getViaLoader(ctx, k, cfg)
	case cfg.batchLoader != nil:
		return c.getViaBatch(ctx, k, cfg)
	default:
		return zero, ErrAbsent
	}
}

func (c *Cache[K, V]) getViaLoader(ctx context.Context, k K, cfg getConfig[K, V]) (V, error) {
	return c.sf.Do(ctx, k, func(innerCtx context.Context) (V, error) {
		var zero V
		v, err := cfg.loader(innerCtx)
		if err != nil {
			c.log.Warn().Interface("key", k).Err(err).Msg("cache: loader failed")
			return zero, &LoaderError{Key: k, Err: err}
		}
		ttl := cfg.ttl.resolve(c.defaultTTL)
		c.store.Put(k, v, ttl.expiryAt(c.clock.NowUnixNano()))
		c.reportSize()
		return v, nil
	})
}

func (c *Cache[K, V]) getViaBatch(ctx context.Context, k K, cfg getConfig[K, V]) (V, error) {
	var zero V
	resultCh := c.bc.Enqueue(k, cfg.batchID, cfg.batchLoader, cfg.ttl)
	select {
	case r := <-resultCh:
		if r.Err != nil {
			c.log.Warn().Interface("key", k).Str("loader_id", cfg.batchID).Err(r.Err).Msg("cache: batch loader failed")
			return zero, &LoaderError{Key: k, Err: r.Err}
		}
		if !r.Found {
			return zero, ErrAbsent
		}
		return r.Value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Set inserts or overwrites k->v unconditionally (spec §4.5: no suspension,
// never consults a loader). ttl follows the same three-way precedence as
// Get's WithTTL: TTLUnset defers to Options.DefaultTTL.
func (c *Cache[K, V]) Set(k K, v V, ttl TTL) {
	resolved := ttl.resolve(c.defaultTTL)
	c.store.Put(k, v, resolved.expiryAt(c.clock.NowUnixNano()))
	c.reportSize()
}

// Delete removes k if present and reports whether it existed. Per spec
// §9's open question, an in-flight SingleFlight load for k is not
// coordinated with this call: a load that resolves after a concurrent
// Delete still writes its result back.
func (c *Cache[K, V]) Delete(k K) bool {
	ok := c.store.Delete(k)
	c.reportSize()
	return ok
}

// Clear removes every entry and resets the hit/miss counters to zero
// (spec §4.5: Clear is contractually a full counter reset, not just an
// eviction sweep).
func (c *Cache[K, V]) Clear() {
	c.store.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
	c.reportSize()
}

// Stats reports the facade's own hit/miss/size counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.store.Len(),
	}
}

// Warmup loads every (key, loader) pair sequentially, observing cache
// semantics rather than Set semantics: a key already present is left
// untouched (spec §4.5 "warmup observes cache semantics, not set
// semantics"). The first loader error aborts the remaining warmup and is
// returned wrapped in LoaderError.
func (c *Cache[K, V]) Warmup(ctx context.Context, loaders map[K]func(context.Context) (V, error)) error {
	for k, fn := range loaders {
		if c.store.Contains(k) {
			continue
		}
		if _, err := c.Get(ctx, k, WithLoader[K, V](fn)); err != nil {
			return err
		}
	}
	return nil
}
