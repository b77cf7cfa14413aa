package store

import (
	"sync"
	"time"

	"github.com/asyncflight/cache/policy"
)

// Clock provides time in UnixNano; overridable for deterministic tests
// (grounded on the teacher's cache.Options.Clock seam).
type Clock interface{ NowUnixNano() int64 }

// Cloner lets a value type opt into defensive copy-on-read (spec §4.1:
// "Returns a defensive copy of the stored value so that caller mutation
// cannot corrupt the cached state... any equivalent guarantee is
// acceptable, including documented value-type immutability"). Value types
// that don't implement Cloner are assumed immutable and returned as-is;
// Go's value semantics already prevent aliasing mutation for non-pointer V.
type Cloner[V any] interface {
	Clone() V
}

// EvictReason explains why an entry was removed, for metrics/logging.
type EvictReason int

const (
	// EvictPolicy — removed by the active eviction policy (LRU/2Q) to satisfy the size limit.
	EvictPolicy EvictReason = iota
	// EvictTTL — expired by TTL (lazy eviction on access).
	EvictTTL
	// EvictExplicit — removed by an explicit Delete call.
	EvictExplicit
)

// OnEvict is called synchronously under the store lock whenever a single
// entry leaves the store: policy/size eviction, TTL expiry, or Delete.
// Clear drops its entries without calling it. Kept lightweight
// deliberately.
type OnEvict[K comparable, V any] func(k K, v V, reason EvictReason)

// Store is LRUStore (spec §4.1): a bounded K->Entry map with recency
// ordering, optional per-entry TTL, and a pluggable eviction policy.
// All methods are safe for concurrent use.
type Store[K comparable, V any] struct {
	mu   sync.Mutex
	m    map[K]*entryNode[K, V]
	head *entryNode[K, V] // MRU
	tail *entryNode[K, V] // LRU
	len  int

	maxSize int // <= 0 means unbounded (I1 relaxed)
	pol     policy.StorePolicy[K, V]
	clock   Clock
	onEvict OnEvict[K, V]
}

// New constructs a Store. pol may be nil, in which case callers get no
// policy-driven admission eviction (only the size/TTL enforcement below
// still applies) — cache.New always supplies a default (plain LRU) so this
// is mainly useful for package-internal tests.
func New[K comparable, V any](maxSize int, pol policy.Policy[K, V], clock Clock, onEvict OnEvict[K, V]) *Store[K, V] {
	s := &Store[K, V]{
		m:       make(map[K]*entryNode[K, V]),
		maxSize: maxSize,
		clock:   clock,
		onEvict: onEvict,
	}
	if pol != nil {
		h := storeHooks[K, V]{s: s}
		s.pol = pol.New(h)
	}
	return s
}

// Contains reports whether k is present and unexpired. Expired entries are
// removed as a side effect (spec §4.1: "expired entries must be removed as
// a side effect of this call"). It does not promote recency.
func (s *Store[K, V]) Contains(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return false
	}
	if s.expiredLocked(n) {
		s.evictLocked(n, EvictTTL)
		return false
	}
	return true
}

// Get returns the value for k and a presence flag; on hit it promotes k to
// recency-newest and returns a defensive copy when V implements Cloner.
func (s *Store[K, V]) Get(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		var zero V
		return zero, false
	}
	if s.expiredLocked(n) {
		s.evictLocked(n, EvictTTL)
		var zero V
		return zero, false
	}

	if s.pol != nil {
		s.pol.OnGet(n)
	} else {
		s.moveToFront(n)
	}

	if c, ok := any(n.val).(Cloner[V]); ok {
		return c.Clone(), true
	}
	return n.val, true
}

// Put inserts or updates k->v with the given absolute expiry (0 = no TTL),
// promotes recency, and evicts the recency-oldest key if the insertion
// pushed size past maxSize (exactly one eviction per overflowing insertion,
// spec §4.1 "put"). Reports whether an eviction occurred.
func (s *Store[K, V]) Put(k K, v V, expiry int64) (evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[k]; ok {
		n.val = v
		n.exp = expiry
		if s.pol != nil {
			s.pol.OnUpdate(n)
		} else {
			s.moveToFront(n)
		}
		return s.enforceSizeLocked()
	}

	n := &entryNode[K, V]{key: k, val: v, exp: expiry}
	s.m[k] = n

	if s.pol != nil {
		if ev := s.pol.OnAdd(n); ev != nil {
			s.evictLocked(ev.(*entryNode[K, V]), EvictPolicy)
		}
	} else {
		s.insertFront(n)
	}

	return s.enforceSizeLocked()
}

// Delete removes k if present and reports whether it existed. Absent is
// not an error (spec §4.1).
func (s *Store[K, V]) Delete(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return false
	}
	if s.pol != nil {
		s.pol.OnRemove(n)
	}
	s.removeNode(n)
	delete(s.m, k)
	if s.onEvict != nil {
		s.onEvict(n.key, n.val, EvictExplicit)
	}
	return true
}

// Clear removes all entries.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[K]*entryNode[K, V])
	s.head, s.tail = nil, nil
	s.len = 0
}

// Len returns the number of resident entries.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len
}

// -------------------- internals (mu held) --------------------

func (s *Store[K, V]) expiredLocked(n *entryNode[K, V]) bool {
	if n.exp == 0 {
		return false
	}
	return s.now() > n.exp
}

func (s *Store[K, V]) now() int64 {
	if s.clock != nil {
		return s.clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (s *Store[K, V]) insertFront(n *entryNode[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
}

func (s *Store[K, V]) moveToFront(n *entryNode[K, V]) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *Store[K, V]) removeNode(n *entryNode[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
}

func (s *Store[K, V]) back() *entryNode[K, V] { return s.tail }

func (s *Store[K, V]) evictLocked(n *entryNode[K, V], reason EvictReason) {
	if s.pol != nil {
		s.pol.OnRemove(n)
	}
	s.removeNode(n)
	delete(s.m, n.key)
	if s.onEvict != nil {
		s.onEvict(n.key, n.val, reason)
	}
}

// enforceSizeLocked evicts the recency-oldest entry exactly once if size
// exceeds maxSize (I1; spec §4.1 "Exactly one eviction per overflowing
// insertion").
func (s *Store[K, V]) enforceSizeLocked() bool {
	if s.maxSize <= 0 || s.len <= s.maxSize {
		return false
	}
	if tail := s.back(); tail != nil {
		s.evictLocked(tail, EvictPolicy)
		return true
	}
	return false
}

// -------------------- policy hooks --------------------

// storeHooks adapts Store's list operations to policy.Hooks.
type storeHooks[K comparable, V any] struct{ s *Store[K, V] }

func (h storeHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.s.moveToFront(x.(*entryNode[K, V])) }
func (h storeHooks[K, V]) PushFront(x policy.Node[K, V])   { h.s.insertFront(x.(*entryNode[K, V])) }
func (h storeHooks[K, V]) Remove(x policy.Node[K, V])      { h.s.removeNode(x.(*entryNode[K, V])) }
func (h storeHooks[K, V]) Back() policy.Node[K, V] {
	if h.s.tail == nil {
		return nil
	}
	return h.s.tail
}
func (h storeHooks[K, V]) Len() int { return h.s.len }
