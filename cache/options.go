package cache

import (
	"context"
	"time"

	"github.com/asyncflight/cache/internal/batch"
	"github.com/asyncflight/cache/policy"
	"github.com/asyncflight/cache/store"
	"github.com/rs/zerolog"
)

// defaultBatchWindow and defaultMaxBatchSize match spec §6's defaults.
const (
	defaultBatchWindow  = 5 * time.Millisecond
	defaultMaxBatchSize = 100
)

// Options configures a Cache at construction (spec §6).
type Options[K comparable, V any] struct {
	MaxSize      int           // <= 0 = unbounded
	DefaultTTL   TTL           // TTLUnset (zero value) = never expire
	BatchWindow  time.Duration // <= 0 = defaultBatchWindow
	MaxBatchSize int           // <= 0 = defaultMaxBatchSize
	Policy       policy.Policy[K, V]
	Logger       *zerolog.Logger // nil = zerolog.Nop(); the zero-valued zerolog.Logger is not safe to log through
	Metrics      Metrics         // nil = NoopMetrics

	// Clock overrides the source of time used for TTL expiry, grounded on
	// the teacher's Options.Clock/fakeClock seam. nil = real wall-clock
	// time (time.Now). Tests supply a fake implementation to observe TTL
	// expiry deterministically instead of sleeping past a real deadline.
	Clock store.Clock
}

// getConfig accumulates a single Get call's options (spec §6's per-call
// loader/TTL-override surface).
type getConfig[K comparable, V any] struct {
	loader      func(context.Context) (V, error)
	batchLoader batch.BatchLoader[K, V]
	batchID     string
	ttl         TTL
}

// GetOption customises one Get call.
type GetOption[K comparable, V any] func(*getConfig[K, V])

// WithLoader supplies a per-key loader invoked on a miss, coalesced across
// concurrent callers of the same key via SingleFlight (spec §4.3/§6).
func WithLoader[K comparable, V any](fn func(context.Context) (V, error)) GetOption[K, V] {
	return func(c *getConfig[K, V]) { c.loader = fn }
}

// WithBatchLoader supplies a loader shared by every key that presents the
// same loaderID, coalesced across distinct keys via BatchCoalescer (spec
// §4.4/§6). loaderID identifies the batch loader's identity since Go
// function values aren't comparable.
func WithBatchLoader[K comparable, V any](loaderID string, fn batch.BatchLoader[K, V]) GetOption[K, V] {
	return func(c *getConfig[K, V]) { c.batchID = loaderID; c.batchLoader = fn }
}

// WithTTL overrides Options.DefaultTTL for this call's resulting Set, per
// spec §4.5's "explicit override > cache default" precedence.
func WithTTL[K comparable, V any](ttl TTL) GetOption[K, V] {
	return func(c *getConfig[K, V]) { c.ttl = ttl }
}
