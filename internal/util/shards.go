// Package util's ReasonableShardCount is not used by the coordinated Store
// (it is explicitly single-lock, see store.Store); it sizes cmd/bench's
// default worker-goroutine count instead.
package util

import "runtime"

// ReasonableShardCount picks a practical default partition count based on
// CPU parallelism. Heuristic: nextPow2(2*GOMAXPROCS), clamped to [1..256].
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	// 2×CPU, round up to power of two, then clamp to 256.
	n := int(NextPow2(uint64(p * 2)))
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}
