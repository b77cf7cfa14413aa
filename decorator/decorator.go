// Package decorator implements the §4.8 decorator-as-adapter: a thin
// wrapper that derives a cache key from a function's positional-argument
// signature and delegates to cache.Cache's loader-coalescing Get, instead
// of the source's stateful-subclass pattern.
//
// Grounded on original_source/cache/async_lru.py/async_ttl.py's __call__
// wrapper (derive a key from *args/**kwargs, check-then-load-then-store),
// restructured per spec §9's "Decorator-as-stateful-object" redesign note:
// Control is a plain struct returned alongside the wrapped function, not a
// base class the decorated function inherits from.
package decorator

import (
	"context"
	"reflect"
	"runtime"

	"github.com/asyncflight/cache/cache"
	"github.com/asyncflight/cache/internal/keycodec"
)

// Control exposes cache operations scoped to a Wrap call's underlying
// function, without handing callers the whole Cache (which may be shared
// across several wrapped functions keyed by distinct op identities).
type Control[V any] struct {
	c        *cache.Cache[keycodec.Key, V]
	op       string
	skipArgs int
}

// Invalidate removes the cached entry for the given call signature, if
// present, reporting whether it existed. args must be passed the same way
// callers pass them to the wrapped function, including any skipped
// leading prefix — skipArgs is applied here exactly as it is in wrapped,
// so the derived key matches.
func (ctl *Control[V]) Invalidate(args ...any) bool {
	key := keycodec.Make(ctl.op, args, nil, ctl.skipArgs)
	return ctl.c.Delete(key)
}

// Clear removes every entry in the underlying cache, including ones
// belonging to other functions wrapped against the same Cache.
func (ctl *Control[V]) Clear() { ctl.c.Clear() }

// Stats reports the underlying cache's hit/miss/size counters.
func (ctl *Control[V]) Stats() cache.Stats { return ctl.c.Stats() }

// Wrap decorates fn so that calls with equal argument signatures are
// coalesced through c: a cache hit returns the stored value directly, a
// miss loads via fn (coalesced across concurrent callers of the same
// signature via c's SingleFlight), and the result is cached before being
// returned. skipArgs drops a leading prefix of args from the derived key
// (e.g. a receiver argument threaded through by a method-like call site).
func Wrap[V any](c *cache.Cache[keycodec.Key, V], skipArgs int, fn func(args ...any) (V, error)) (wrapped func(args ...any) (V, error), ctl *Control[V]) {
	op := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	ctl = &Control[V]{c: c, op: op, skipArgs: skipArgs}

	wrapped = func(args ...any) (V, error) {
		key := keycodec.Make(op, args, nil, skipArgs)
		return c.Get(context.Background(), key, cache.WithLoader[keycodec.Key, V](func(context.Context) (V, error) {
			return fn(args...)
		}))
	}
	return wrapped, ctl
}
