// Package policy defines the pluggable eviction-policy contract used by
// store.Store (LRUStore, §4.1). The default policy is plain
// move-to-front LRU (policy/lru); policy/twoq is kept as an optional
// scan-resistant alternative selectable via cache.Options.Policy.
package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
// It provides read-only access to the key and a pointer to the value.
// The pointer allows in-place updates without re-linking the intrusive node.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks expose O(1) list operations that a policy can use to manipulate
// the store's intrusive MRU/LRU list. Implementations are provided by the
// store.
//
// Concurrency: all hook calls happen under the store lock.
// Important: hooks manage only the list; the store owns the key->node map.
type Hooks[K comparable, V any] interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node[K, V])
	// PushFront inserts the node at MRU (used on admission).
	PushFront(Node[K, V])
	// Remove detaches the node from the list (map bookkeeping is done by the store).
	Remove(Node[K, V])
	// Back returns the current LRU node (or nil if empty).
	Back() Node[K, V]
	// Len returns the number of resident nodes in the store.
	Len() int
}

// StorePolicy is a store-bound eviction policy instance. All methods are
// invoked under the store lock.
//
// Semantics:
//   - OnAdd may return an eviction candidate (e.g., LRU of a probation queue).
//     The store will evict that node and subsequently call OnRemove for it.
//   - OnGet/OnUpdate typically promote the node (e.g., move to MRU).
//   - OnRemove is a notification to update policy-internal state
//     (e.g., maintain ghost queues). The store performs actual deletion.
type StorePolicy[K comparable, V any] interface {
	OnAdd(Node[K, V]) (evict Node[K, V])
	OnGet(Node[K, V])
	OnUpdate(Node[K, V])
	OnRemove(Node[K, V])
}

// Policy is a factory that creates a store-local policy instance bound to
// a particular store's hooks.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) StorePolicy[K, V]
}
